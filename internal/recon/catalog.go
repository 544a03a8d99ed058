package recon

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/HerbHall/lockwatch/pkg/models"
)

//go:embed profiles.yaml
var profilesRaw []byte

// VendorProfile maps a banner keyword to a manufacturer and its usual stream path.
type VendorProfile struct {
	Keyword  string `yaml:"keyword"`
	Name     string `yaml:"name"`
	RTSPPath string `yaml:"rtsp_path"`
}

// DemoTemplate describes one placeholder device.
type DemoTemplate struct {
	Protocol     models.ProtocolKind `yaml:"protocol"`
	Port         int                 `yaml:"port"`
	Manufacturer string              `yaml:"manufacturer"`
	Model        string              `yaml:"model"`
}

type profileFile struct {
	Ports           map[models.ProtocolKind][]int `yaml:"ports"`
	Vendors         []VendorProfile               `yaml:"vendors"`
	DefaultRTSPPath string                        `yaml:"default_rtsp_path"`
	Demo            []DemoTemplate                `yaml:"demo"`
}

// Catalog is the embedded camera profile data, parsed on first use.
type Catalog struct {
	once sync.Once
	data profileFile
	err  error
}

// NewCatalog returns a Catalog over the embedded profiles.
func NewCatalog() *Catalog {
	return &Catalog{}
}

func (c *Catalog) load() {
	c.once.Do(func() {
		if err := yaml.Unmarshal(profilesRaw, &c.data); err != nil {
			c.err = fmt.Errorf("recon catalog: parse yaml: %w", err)
		}
	})
}

// Err reports a parse failure of the embedded data.
func (c *Catalog) Err() error {
	c.load()
	return c.err
}

// Ports returns the candidate ports for p, in priority order.
func (c *Catalog) Ports(p models.ProtocolKind) []int {
	c.load()
	ports := c.data.Ports[p]
	out := make([]int, len(ports))
	copy(out, ports)
	return out
}

// MatchVendor returns the first vendor whose keyword occurs in any of hints.
func (c *Catalog) MatchVendor(hints ...string) (VendorProfile, bool) {
	c.load()
	for _, h := range hints {
		h = strings.ToLower(h)
		if h == "" {
			continue
		}
		for _, v := range c.data.Vendors {
			if strings.Contains(h, v.Keyword) {
				return v, true
			}
		}
	}
	return VendorProfile{}, false
}

// RTSPPath returns the conventional stream path for manufacturer.
func (c *Catalog) RTSPPath(manufacturer string) string {
	if v, ok := c.MatchVendor(manufacturer); ok && v.RTSPPath != "" {
		return v.RTSPPath
	}
	return c.data.DefaultRTSPPath
}

// DemoTemplates returns the placeholder definitions.
func (c *Catalog) DemoTemplates() []DemoTemplate {
	c.load()
	out := make([]DemoTemplate, len(c.data.Demo))
	copy(out, c.data.Demo)
	return out
}
