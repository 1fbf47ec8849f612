package config

const (
	DefaultConfigPath    = "/config/config.json"
	DefaultBindAddress   = "0.0.0.0:8080"
	DefaultDataDirectory = "/servers"
	DefaultLauncher      = "java"
)

// AgentConfig holds node-level agent settings
type AgentConfig struct {
	BindAddress   string `json:"bind_address"`
	DataDirectory string `json:"data_directory"`

	// Launcher is the binary that runs a server artifact. Defaults to "java".
	Launcher string `json:"launcher,omitempty"`

	// GRPCPort enables the gRPC control endpoint (core ping and health) when non-zero.
	GRPCPort int `json:"grpc_port,omitempty"`
}

// ServerDefinition is the persisted declaration of a manageable server
type ServerDefinition struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Directory       string `json:"directory"`
	Artifact        string `json:"jar"`
	MemoryMB        int    `json:"memory_mb"`
	Port            int    `json:"port"`
	Autostart       bool   `json:"autostart"`
	BackupDirectory string `json:"backup_directory,omitempty"`
}

// Configuration is the whole persisted document
type Configuration struct {
	Agent   AgentConfig        `json:"agent"`
	Servers []ServerDefinition `json:"servers"`
}

// Default returns the configuration used on first run
func Default() *Configuration {
	return &Configuration{
		Agent: AgentConfig{
			BindAddress:   DefaultBindAddress,
			DataDirectory: DefaultDataDirectory,
		},
		Servers: []ServerDefinition{},
	}
}

// LauncherOrDefault returns the configured launcher or "java"
func (a AgentConfig) LauncherOrDefault() string {
	if a.Launcher == "" {
		return DefaultLauncher
	}
	return a.Launcher
}

// Clone returns a deep copy; ServerDefinition holds no references so a
// slice copy is enough.
func (c *Configuration) Clone() *Configuration {
	clone := &Configuration{
		Agent:   c.Agent,
		Servers: make([]ServerDefinition, len(c.Servers)),
	}
	copy(clone.Servers, c.Servers)
	return clone
}

// Find returns the definition with the given identifier
func (c *Configuration) Find(id string) (ServerDefinition, bool) {
	if i := c.indexOf(id); i >= 0 {
		return c.Servers[i], true
	}
	return ServerDefinition{}, false
}

// Replace swaps the definition with the same identifier, keeping its position.
// Returns false if no such definition exists.
func (c *Configuration) Replace(def ServerDefinition) bool {
	i := c.indexOf(def.ID)
	if i < 0 {
		return false
	}
	c.Servers[i] = def
	return true
}

// Remove deletes the definition with the given identifier, preserving order.
func (c *Configuration) Remove(id string) bool {
	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	c.Servers = append(c.Servers[:i], c.Servers[i+1:]...)
	return true
}

func (c *Configuration) indexOf(id string) int {
	for i := range c.Servers {
		if c.Servers[i].ID == id {
			return i
		}
	}
	return -1
}
