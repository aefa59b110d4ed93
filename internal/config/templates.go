package config

import (
	"fmt"
	"os"
	"strings"
)

// Template kinds accepted by Template and WriteTemplate.
const (
	KindServer   = "server"
	KindClient   = "client"
	KindFrameCtl = "framectl"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		return serverTemplate, nil
	case KindClient:
		return clientTemplate, nil
	case KindFrameCtl:
		return frameCtlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path with the schema for kind.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer, KindClient:
		_, err := LoadDaemonConfig(path)
		return err
	case KindFrameCtl:
		_, err := LoadFrameCtlConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const serverTemplate = `id = "potlink.local"
mode = "server"

[server]
addr = ":5000"
frames_per_session = 1
max_sessions = 1000
max_frames = 1000
io_timeout = "30s"

[status]
enabled = true
addr = ":9200"
cors_origins = ["http://localhost:3000"]
stream_interval = "1s"

[sampler]
resolution = "12"
initial = 2048
step = 64
interval = "100ms"
`

const clientTemplate = `id = "potlink.local"
mode = "client"

[client]
addr = "192.168.1.10:80"
host = "192.168.1.10"
path_prefix = "/?func=save&ID=xxxxxxxxx&POT="
interval = "5s"
timeout = "5s"
skip_unchanged = false
max_exchanges = 0
inline_capacity = 1460
max_body_bytes = 1048576
max_tokens = 128

[status]
enabled = false
addr = ":9200"

[sampler]
resolution = "12"
initial = 2048
step = 64
interval = "100ms"
`

const frameCtlTemplate = `addr = "127.0.0.1:5000"
led1 = true
led2 = false
timeout = "5s"
`
