// Package vault stores camera credentials encrypted at rest. Secrets are
// sealed with NaCl secretbox under a key derived from the configured
// passphrase with argon2id. Without a passphrase the vault stays sealed.
package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

var (
	// ErrSealed is returned for secret operations while no key is loaded.
	ErrSealed = errors.New("vault is sealed")
	// ErrWrongPassphrase means the passphrase does not open existing data.
	ErrWrongPassphrase = errors.New("vault passphrase does not match stored data")
	// ErrInvalid is returned for a credential without address or username.
	ErrInvalid = errors.New("address and username are required")
)

// State is the vault lock state.
type State string

const (
	StateSealed   State = "sealed"   // no passphrase configured
	StateLocked   State = "locked"   // passphrase rejected
	StateUnsealed State = "unsealed" // secrets readable
)

// verifierPlain is sealed once per database to detect a changed passphrase.
var verifierPlain = []byte("lockwatch-vault-v1")

// Module implements the vault plugin.
type Module struct {
	logger *zap.Logger
	store  *VaultStore
	bus    plugin.EventBus
	kdf    kdfParams
	now    func() time.Time

	mu    sync.RWMutex
	keys  *keyring
	state State
}

// New creates the vault module.
func New() *Module {
	return &Module{kdf: defaultKDF, now: time.Now, state: StateSealed}
}

// Info implements plugin.Plugin.
func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "vault",
		Version:     "0.2.0",
		Description: "Encrypted camera credential storage",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

// Init implements plugin.Plugin. A wrong passphrase leaves the vault locked
// rather than failing startup.
func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.bus = deps.Bus

	if deps.Store == nil {
		m.logger.Warn("vault has no store; credentials unavailable")
		return nil
	}
	if err := deps.Store.Migrate(ctx, "vault", migrations()); err != nil {
		return fmt.Errorf("vault migrations: %w", err)
	}
	m.store = NewVaultStore(deps.Store.DB())

	var passphrase string
	if deps.Config != nil {
		passphrase = deps.Config.GetString("passphrase")
	}
	if passphrase == "" {
		m.logger.Warn("vault sealed: no passphrase configured")
		return nil
	}
	switch err := m.Unseal(ctx, passphrase); {
	case errors.Is(err, ErrWrongPassphrase):
		m.logger.Error("vault locked", zap.Error(err))
	case err != nil:
		return err
	}
	m.logger.Info("vault module initialized", zap.String("state", string(m.State())))
	return nil
}

// Start implements plugin.Plugin.
func (m *Module) Start(_ context.Context) error { return nil }

// Stop implements plugin.Plugin. It drops the key from memory.
func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys != nil {
		m.keys.key = [keyLen]byte{}
		m.keys = nil
	}
	if m.state == StateUnsealed {
		m.state = StateSealed
	}
	return nil
}

// Unseal derives the key from passphrase. The first unseal of a database
// stores a fresh salt and a verifier; later ones must match it.
func (m *Module) Unseal(ctx context.Context, passphrase string) error {
	if m.store == nil {
		return errors.New("vault store not available")
	}
	salt, err := m.store.GetMeta(ctx, metaSalt)
	if err != nil {
		return err
	}
	if salt == nil {
		if salt, err = newSalt(); err != nil {
			return err
		}
		if err := m.store.PutMeta(ctx, metaSalt, salt); err != nil {
			return err
		}
	}
	keys := deriveKey(passphrase, salt, m.kdf)

	verifier, err := m.store.GetMeta(ctx, metaVerifier)
	if err != nil {
		return err
	}
	if verifier == nil {
		sealed, err := keys.seal(verifierPlain)
		if err != nil {
			return err
		}
		if err := m.store.PutMeta(ctx, metaVerifier, sealed); err != nil {
			return err
		}
	} else if plain, err := keys.open(verifier); err != nil || !bytes.Equal(plain, verifierPlain) {
		m.setState(ctx, nil, StateLocked)
		return ErrWrongPassphrase
	}

	m.setState(ctx, keys, StateUnsealed)
	return nil
}

func (m *Module) setState(ctx context.Context, keys *keyring, s State) {
	m.mu.Lock()
	changed := m.state != s
	m.keys = keys
	m.state = s
	m.mu.Unlock()
	if changed {
		m.publish(ctx, TopicVaultStatusChanged, StatusEvent{State: s})
	}
}

// State returns the lock state.
func (m *Module) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Module) keyring() (*keyring, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.keys == nil {
		return nil, ErrSealed
	}
	return m.keys, nil
}

// Put stores a credential for address, replacing any existing one.
func (m *Module) Put(ctx context.Context, address, username, password, note string) (*Credential, bool, error) {
	address = strings.TrimSpace(address)
	if address == "" || username == "" {
		return nil, false, ErrInvalid
	}
	if m.store == nil {
		return nil, false, ErrSealed
	}
	keys, err := m.keyring()
	if err != nil {
		return nil, false, err
	}
	secret, err := keys.seal([]byte(password))
	if err != nil {
		return nil, false, err
	}

	now := m.now().UTC()
	c := Credential{Address: address, Username: username, Note: note, CreatedAt: now, UpdatedAt: now}
	created, err := m.store.Upsert(ctx, c, secret)
	if err != nil {
		return nil, false, err
	}
	if !created {
		if stored, _, err := m.store.Get(ctx, address); err == nil {
			c.CreatedAt = stored.CreatedAt
		}
	}

	topic := TopicCredentialUpdated
	if created {
		topic = TopicCredentialCreated
	}
	m.publish(ctx, topic, CredentialEvent{Address: address, Username: username})
	return &c, created, nil
}

// Lookup returns the decrypted credential for address. ok is false when
// none is stored. It satisfies the recon credential source.
func (m *Module) Lookup(ctx context.Context, address string) (username, password string, ok bool, err error) {
	if m.store == nil {
		return "", "", false, ErrSealed
	}
	keys, err := m.keyring()
	if err != nil {
		return "", "", false, err
	}
	c, secret, err := m.store.Get(ctx, address)
	if errors.Is(err, ErrNotFound) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, err
	}
	plain, err := keys.open(secret)
	if err != nil {
		return "", "", false, fmt.Errorf("credential %s: %w", address, err)
	}
	return c.Username, string(plain), true, nil
}

// List returns stored credentials without secrets. It works while sealed.
func (m *Module) List(ctx context.Context) ([]Credential, error) {
	if m.store == nil {
		return nil, errors.New("vault store not available")
	}
	return m.store.List(ctx)
}

// Delete removes the credential for address. It works while sealed.
func (m *Module) Delete(ctx context.Context, address string) error {
	if m.store == nil {
		return errors.New("vault store not available")
	}
	if err := m.store.Delete(ctx, address); err != nil {
		return err
	}
	m.publish(ctx, TopicCredentialDeleted, CredentialEvent{Address: address})
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	if m.store == nil {
		return plugin.HealthStatus{Status: "degraded", Message: "vault store not available"}
	}
	details := map[string]string{"state": string(m.State())}
	if n, err := m.store.Count(ctx); err == nil {
		details["credentials"] = fmt.Sprint(n)
	}
	switch m.State() {
	case StateLocked:
		return plugin.HealthStatus{Status: "unhealthy", Message: ErrWrongPassphrase.Error(), Details: details}
	case StateSealed:
		return plugin.HealthStatus{Status: "degraded", Message: "no passphrase configured", Details: details}
	}
	return plugin.HealthStatus{Status: "healthy", Details: details}
}

func (m *Module) publish(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    "vault",
		Timestamp: m.now().UTC(),
		Payload:   payload,
	})
}
