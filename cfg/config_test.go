package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()

	if err := Validate(); err != nil {
		t.Errorf("Expected no error for default config, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	for _, port := range []int{-1, 0, 70000} {
		Config = Default()
		Config.Server.Port = port

		if err := Validate(); err == nil {
			t.Errorf("Expected error for invalid port %d", port)
		}
	}
}

func TestValidate_PongMustExceedPing(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.WebSocket.PingIntervalMS = 30000
	Config.WebSocket.PongTimeoutMS = 30000

	assert.Error(t, Validate())
}

func TestValidate_WebSocketPath(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.WebSocket.Path = "ws"

	assert.Error(t, Validate())
}

func TestValidate_Producer(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tests := []struct {
		producer ProducerType
		wantErr  bool
	}{
		{ProducerChangeFeed, false},
		{ProducerDirect, false},
		{"", true},
		{"both", true},
	}

	for _, tc := range tests {
		Config = Default()
		Config.Notify.Producer = tc.producer

		err := Validate()
		if tc.wantErr {
			assert.Error(t, err, "producer %q", tc.producer)
		} else {
			assert.NoError(t, err, "producer %q", tc.producer)
		}
	}
}

func TestValidate_OverflowPolicyNeedsCapacity(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	for _, policy := range []OverflowPolicy{OverflowDropOldest, OverflowRejectNewest, OverflowSpill} {
		Config = Default()
		Config.Notify.OverflowPolicy = policy
		Config.Notify.QueueCapacity = 0
		assert.Error(t, Validate(), "policy %s without capacity", policy)

		Config.Notify.QueueCapacity = 10
		assert.NoError(t, Validate(), "policy %s with capacity", policy)
	}

	Config = Default()
	Config.Notify.OverflowPolicy = "lifo"
	assert.Error(t, Validate())
}

func TestValidate_ChangeFeedSources(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.ChangeFeed.Source = "nats"
	assert.Error(t, Validate(), "nats without url")
	Config.ChangeFeed.NatsURL = "nats://127.0.0.1:4222"
	assert.NoError(t, Validate())

	Config = Default()
	Config.ChangeFeed.Source = "kafka"
	assert.Error(t, Validate(), "kafka without brokers")
	Config.ChangeFeed.Brokers = []string{"localhost:9092"}
	assert.NoError(t, Validate())

	Config = Default()
	Config.ChangeFeed.Source = "supabase"
	assert.Error(t, Validate())

	Config = Default()
	Config.ChangeFeed.Format = "avro"
	assert.Error(t, Validate())
}

func TestValidate_ChangeFeedIgnoredForDirectProducer(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.Notify.Producer = ProducerDirect
	Config.ChangeFeed.Source = "nats"
	Config.ChangeFeed.NatsURL = ""

	assert.NoError(t, Validate())
}

func TestValidate_StoreDriver(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.Store.Driver = "mysql"
	assert.Error(t, Validate(), "mysql without dsn")

	Config.Store.DSN = "shop:shop@tcp(127.0.0.1:3306)/shop?parseTime=true"
	assert.NoError(t, Validate())

	Config.Store.Driver = "postgres"
	assert.Error(t, Validate())
}

func TestLoad_NonExistentFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(t.TempDir(), "data")

	Config = Default()
	Config.DataDir = tempDir
	Config.InstanceID = 7

	err := Load("non-existent-file.toml")
	require.NoError(t, err)

	assert.Equal(t, uint64(7), Config.InstanceID)
	assert.Equal(t, 3000, Config.Server.Port)
}

func TestLoad_DecodesFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
instance_id = 42
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"

[notify]
default_recipient = "admin-1"
producer = "direct"
queue_capacity = 5
overflow_policy = "drop_oldest"

[change_feed]
source = "kafka"
brokers = ["k1:9092", "k2:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	Config = Default()
	require.NoError(t, Load(path))

	assert.Equal(t, uint64(42), Config.InstanceID)
	assert.Equal(t, "admin-1", Config.Notify.DefaultRecipient)
	assert.Equal(t, ProducerDirect, Config.Notify.Producer)
	assert.Equal(t, 5, Config.Notify.QueueCapacity)
	assert.Equal(t, OverflowDropOldest, Config.Notify.OverflowPolicy)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, Config.ChangeFeed.Brokers)
	// Untouched sections keep defaults
	assert.Equal(t, "/ws", Config.WebSocket.Path)
	assert.NoError(t, Validate())
}

func TestLoad_InvalidFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("notify = [broken"), 0644))

	Config = Default()
	assert.Error(t, Load(path))
}

func TestLoad_CreateDataDir(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(t.TempDir(), "nested", "data")

	Config = Default()
	Config.DataDir = tempDir
	Config.InstanceID = 1

	require.NoError(t, Load(""))

	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Error("Data directory was not created")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(t.TempDir(), "override")

	*DataDirFlag = tempDir
	*InstanceIDFlag = 12345
	*PortFlag = 9999

	defer func() {
		*DataDirFlag = ""
		*InstanceIDFlag = 0
		*PortFlag = 0
	}()

	Config = Default()

	require.NoError(t, Load(""))

	assert.Equal(t, tempDir, Config.DataDir)
	assert.Equal(t, uint64(12345), Config.InstanceID)
	assert.Equal(t, 9999, Config.Server.Port)
}

func TestGenerateInstanceID(t *testing.T) {
	id1, err := generateInstanceID()
	if err != nil {
		t.Skipf("machine id unavailable: %v", err)
	}

	if id1 == 0 {
		t.Error("Generated instance ID should not be 0")
	}

	id2, err := generateInstanceID()
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "instance ID should be deterministic for same machine")
}

func TestGetSpillDir(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.DataDir = "/var/lib/ordernotify"
	assert.Equal(t, filepath.Join("/var/lib/ordernotify", "spill"), GetSpillDir())

	Config.Spill.Dir = "/tmp/spill"
	assert.Equal(t, "/tmp/spill", GetSpillDir())
}

func TestGetStoreDSN(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.DataDir = "/data"
	assert.Contains(t, GetStoreDSN(), filepath.Join("/data", "shop.db"))

	Config.Store.DSN = ":memory:"
	assert.Equal(t, ":memory:", GetStoreDSN())
}

func BenchmarkValidate(b *testing.B) {
	original := Config
	defer func() { Config = original }()

	Config = Default()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Validate()
	}
}
