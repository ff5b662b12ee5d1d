package domain

// Container describes a container as reported by the runtime engine. It is
// what the proxy sees when listing or adopting its own children.
type Container struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image"`
	State   string `json:"state"` // running, exited, etc.
	Address string `json:"address"`
}

// Running reports whether the engine considers the container running.
func (c Container) Running() bool { return c.State == "running" }
