package domain

// Topology represents a sandbox topology definition
type Topology struct {
	ID          int64  // Unique identifier
	Name        string // Topology name
	Description string // Optional description
	Document    string // Topology document (JSON array of canvas objects)
}

// Script represents a configuration script pushed to sandbox nodes
type Script struct {
	ID          int64  // Unique identifier
	Name        string // Script name
	Script      string // Script contents
	Destination string // Absolute path on the node where the script lands
}
