package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func Test_LoadConfig_Missing_File_Uses_Defaults(t *testing.T) {
	req := require.New(t)
	t.Setenv("SAFECHAT_AUTH_JWT_SECRET", "s3cret")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	req.NoError(err)

	req.Equal("s3cret", cfg.Auth.JWTSecret)
	req.Equal(DriverMongo, cfg.Store.Driver)
	req.Equal(5*time.Second, cfg.Delivery.GracePeriod.Std())
	req.Equal(100, cfg.Session.MailboxCapacity)
	req.False(cfg.Session.EvictSuperseded)
	req.Equal("Europe/Brussels", cfg.Location().String())
}

func Test_LoadConfig_File_Then_Env(t *testing.T) {
	req := require.New(t)
	path := writeConfig(t, `{
		"server": {"app_port": 9000, "socket_route": "/chat"},
		"auth": {"jwt_secret": "from-file"},
		"store": {"driver": "memory"},
		"delivery": {"grace_period": "250ms"},
		"session": {"pong_wait": "30s", "evict_superseded": true}
	}`)
	t.Setenv("SAFECHAT_SERVER_APP_PORT", "9100")
	t.Setenv("SAFECHAT_SERVER_ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := LoadConfig(path)
	req.NoError(err)

	req.Equal(9100, cfg.Server.AppPort)
	req.Equal("/chat", cfg.Server.SocketRoute)
	req.Equal([]string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	req.Equal("from-file", cfg.Auth.JWTSecret)
	req.Equal(DriverMemory, cfg.Store.Driver)
	req.Equal(250*time.Millisecond, cfg.Delivery.GracePeriod.Std())
	req.Equal(30*time.Second, cfg.Session.PongWait.Std())
	req.True(cfg.Session.EvictSuperseded)
}

func Test_LoadConfig_Rejects_Invalid(t *testing.T) {
	cases := map[string]string{
		"no secret":       `{}`,
		"bad driver":      `{"auth":{"jwt_secret":"x"},"store":{"driver":"sqlite"}}`,
		"postgres no dsn": `{"auth":{"jwt_secret":"x"},"store":{"driver":"postgres"}}`,
		"bad timezone":    `{"auth":{"jwt_secret":"x"},"delivery":{"timezone":"Mars/Olympus"}}`,
		"bad duration":    `{"auth":{"jwt_secret":"x"},"delivery":{"grace_period":"soon"}}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func Test_NewLogger_Rejects_Unknown_Level(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "chatty"})
	require.Error(t, err)

	logger, err := NewLogger(LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func Test_BuildContainer_With_Memory_Store(t *testing.T) {
	req := require.New(t)
	path := writeConfig(t, `{"auth":{"jwt_secret":"x"},"store":{"driver":"memory"},"log":{"level":"error"}}`)

	c, err := BuildContainer(path)
	req.NoError(err)
	req.NotNil(c.Hub)
	req.NotNil(c.MessageHandler)
	req.NoError(c.Close())
}
