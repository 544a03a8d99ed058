package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/HerbHall/lockwatch/internal/backup"
	"github.com/HerbHall/lockwatch/internal/config"
)

func runBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	output := fs.String("output", "", "output file path (default: lockwatch-backup-{timestamp}.tar.gz)")
	configPath := fs.String("config", "", "config file to read database.path from and include in the backup")
	dbPath := fs.String("db", "", "database path (overrides database.path)")

	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	if *dbPath == "" {
		*dbPath = v.GetString("database.path")
	}
	if *output == "" {
		*output = backup.DefaultArchiveName(time.Now())
	}
	cfgFile := *configPath
	if cfgFile == "" {
		cfgFile = v.ConfigFileUsed()
	}

	if err := backup.Backup(context.Background(), *dbPath, cfgFile, *output); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backup created: %s\n", *output)
}
