package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleetops/internal/config"
	"github.com/ukydev/fleetops/internal/db/memdb"
	"github.com/ukydev/fleetops/internal/expiry"
	"github.com/ukydev/fleetops/internal/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("STORE", "memory")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		jsonOutput = false
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"documents", "scan"},
		{"vehicles", "list"},
		{"vehicles", "sync"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
	scan, _, _ := rootCmd.Find([]string{"documents", "scan"})
	assert.NotNil(t, scan.Flags().Lookup("interval"))
	serve, _, _ := rootCmd.Find([]string{"serve"})
	assert.NotNil(t, serve.Flags().Lookup("scan-interval"))
}

func TestVehiclesList_EmptyStore(t *testing.T) {
	out, err := execute(t, "vehicles", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NUMERO")
	assert.Contains(t, out, "STAGE")
}

func TestVehiclesSync_UnknownVehicle(t *testing.T) {
	_, err := execute(t, "vehicles", "sync", "000000000000000000000000")
	assert.Error(t, err)
}

func TestVehiclesSync_RequiresID(t *testing.T) {
	_, err := execute(t, "vehicles", "sync")
	assert.Error(t, err)
}

func TestDocumentsScan_JSON(t *testing.T) {
	out, err := execute(t, "--json", "documents", "scan")
	require.NoError(t, err)

	var report expiry.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.Scanned)
	assert.Empty(t, report.Alerts)
}

func TestPrintReport_Table(t *testing.T) {
	r := &expiry.Report{
		At:      time.Date(2024, 2, 20, 9, 0, 0, 0, time.UTC),
		Scanned: 3,
		Alerts: []expiry.DocumentAlert{
			{
				Document: models.Document{OwnerKind: models.OwnerChauffeur, OwnerID: "c1", TypeDocument: "permis", DateExpiration: "2024-02-17"},
				Alert:    expiry.Alert{Level: expiry.LevelExpire, JoursRestants: -3},
			},
			{
				Document: models.Document{OwnerKind: models.OwnerVehicule, OwnerID: "v1", TypeDocument: "assurance", DateExpiration: "2024-03-06"},
				Alert:    expiry.Alert{Level: expiry.LevelARenouveler, JoursRestants: 15},
			},
		},
		Errors: []expiry.ScanError{{DocumentID: "d9", Message: "invalid date \"31/12/2024\""}},
	}

	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, r))
	out := buf.String()
	assert.Contains(t, out, "permis")
	assert.Contains(t, out, "expire")
	assert.Contains(t, out, "a_renouveler")
	assert.Contains(t, out, "-3")
	assert.Contains(t, out, "1 errors")
	assert.Contains(t, out, "document d9:")
}

func TestNewApp_MemoryDefaults(t *testing.T) {
	cfg := &config.Config{
		Port:      "8080",
		Store:     "memory",
		TimeZone:  "Asia/Dubai",
		JWTSecret: "secret",
		JWTExpiry: time.Hour,
		IOTimeout: time.Second,
		LockTTL:   time.Second,
		LogLevel:  "info",
	}
	logger, _ := test.NewNullLogger()

	a, err := newApp(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &memdb.Store{}, a.store)
	assert.Equal(t, "Asia/Dubai", a.loc.String())
	assert.NotNil(t, a.router())
	assert.Empty(t, a.closers)
}

func TestSeedAdmin(t *testing.T) {
	cfg := &config.Config{
		Port:          "8080",
		Store:         "memory",
		TimeZone:      "UTC",
		JWTSecret:     "secret",
		JWTExpiry:     time.Hour,
		IOTimeout:     time.Second,
		LockTTL:       time.Second,
		LogLevel:      "info",
		AdminUsername: "root",
		AdminPassword: "bootstrap-pass",
	}
	logger, _ := test.NewNullLogger()
	a, err := newApp(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.seedAdmin(context.Background()))
	require.NoError(t, a.seedAdmin(context.Background()))

	u, err := a.users.FindUserByUsername(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)
	admins, err := a.users.FindUsers(context.Background(), models.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, admins, 1)
}
