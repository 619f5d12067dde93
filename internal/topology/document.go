// Package topology implements the sandbox topology document model: an
// ordered JSON array of canvas objects describing virtual machines, the
// connections between them, and topology metadata. The document format is
// shared with the diagram editor that produces it, so unknown fields are
// preserved verbatim through parse/mutate/serialize cycles.
package topology

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	typeInfo       = "wistar.info"
	typeConnection = "draw2d.Connection"

	// NoScriptID marks a node with no bound configuration script
	NoScriptID = "0"
)

// Document is a parsed topology document. Entries keep their original
// order and any fields this model does not interpret.
type Document struct {
	entries []map[string]any
}

// Parse decodes a topology document from its stored JSON form
func Parse(raw string) (*Document, error) {
	var entries []map[string]any
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("failed to parse topology document: %w", err)
	}
	return &Document{entries: entries}, nil
}

// Marshal re-encodes the document for storage
func (d *Document) Marshal() (string, error) {
	b, err := json.Marshal(d.entries)
	if err != nil {
		return "", fmt.Errorf("failed to serialize topology document: %w", err)
	}
	return string(b), nil
}

// Clone returns a deep copy of the document
func (d *Document) Clone() (*Document, error) {
	raw, err := d.Marshal()
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Info returns the name and description from the document's metadata
// entry. ok is false when no metadata entry is present.
func (d *Document) Info() (name, description string, ok bool) {
	for _, entry := range d.entries {
		if t, _ := entry["type"].(string); t == typeInfo {
			name, _ = entry["name"].(string)
			description, _ = entry["description"].(string)
			return name, description, true
		}
	}
	return "", "", false
}

// Nodes returns every managed VM node in document order. A managed node
// is any entry whose userData carries the wistarVm marker.
func (d *Document) Nodes() []*Node {
	var nodes []*Node
	for _, entry := range d.entries {
		ud, found := vmUserData(entry)
		if !found {
			continue
		}
		nodes = append(nodes, &Node{entry: entry, ud: ud})
	}
	return nodes
}

// Connection is a point-to-point link between two nodes, referencing
// them by their canvas object ids.
type Connection struct {
	SourceID string
	TargetID string
}

// Connections returns the links declared in the document, in order
func (d *Document) Connections() []Connection {
	var conns []Connection
	for _, entry := range d.entries {
		if t, _ := entry["type"].(string); t != typeConnection {
			continue
		}
		conns = append(conns, Connection{
			SourceID: endpointNode(entry, "source"),
			TargetID: endpointNode(entry, "target"),
		})
	}
	return conns
}

func endpointNode(entry map[string]any, key string) string {
	ep, _ := entry[key].(map[string]any)
	if ep == nil {
		return ""
	}
	id, _ := ep["node"].(string)
	return id
}

func vmUserData(entry map[string]any) (map[string]any, bool) {
	ud, _ := entry["userData"].(map[string]any)
	if ud == nil {
		return nil, false
	}
	if _, marked := ud["wistarVm"]; !marked {
		return nil, false
	}
	return ud, true
}

// Node is a managed VM entry. Mutations write through to the owning
// document, so Marshal after mutation persists them.
type Node struct {
	entry map[string]any
	ud    map[string]any
}

// ID returns the canvas object id connections refer to
func (n *Node) ID() string {
	id, _ := n.entry["id"].(string)
	return id
}

// Label returns the node label, used as both hostname and the
// domain-name component on the hypervisor.
func (n *Node) Label() string {
	return n.stringField("label", "")
}

// Name returns the friendly node name for inventory purposes
func (n *Node) Name() string {
	return n.stringField("name", "no name")
}

// Address returns the node's management IPv4 address
func (n *Node) Address() string {
	return n.stringField("ip", "0.0.0.0")
}

// SetAddress rewrites the node's management IPv4 address
func (n *Node) SetAddress(address string) {
	n.ud["ip"] = address
}

// Username returns the remote access user
func (n *Node) Username() string {
	return n.stringField("username", "root")
}

// Password returns the node's root/admin password
func (n *Node) Password() string {
	return n.stringField("password", "")
}

// MgmtInterface returns the management interface name inside the guest
func (n *Node) MgmtInterface() string {
	return n.stringField("mgmtInterface", "eth0")
}

// DeviceType returns the node's device variant
func (n *Node) DeviceType() DeviceType {
	return ParseDeviceType(n.DeclaredType())
}

// DeclaredType returns the raw type string from the document, which may
// name a device this system does not know how to configure.
func (n *Node) DeclaredType() string {
	return n.stringField("type", "")
}

// IsChild reports whether this node is provisioned as a side effect of
// a parent node. Child nodes are skipped by inventory and by address
// rewriting during clone.
func (n *Node) IsChild() bool {
	_, present := n.ud["parentName"]
	return present
}

// ScriptID returns the bound configuration script id, or NoScriptID
func (n *Node) ScriptID() string {
	id := n.stringField("configScriptId", NoScriptID)
	if id == "" {
		return NoScriptID
	}
	return id
}

// ScriptParam returns the parameter string passed to the bound script
func (n *Node) ScriptParam() string {
	return n.stringField("configScriptParam", "")
}

// SetScriptBinding stamps a configuration script id and parameter
func (n *Node) SetScriptBinding(id, param string) {
	n.ud["configScriptId"] = id
	n.ud["configScriptParam"] = param
}

// Image returns the backing image name for the node's disk
func (n *Node) Image() string {
	return n.stringField("image", "")
}

// VCPUs returns the virtual CPU count, defaulting to 1
func (n *Node) VCPUs() int {
	return n.intField("cpu", 1)
}

// MemoryMB returns the memory size in megabytes, defaulting to 1024
func (n *Node) MemoryMB() int {
	return n.intField("ram", 1024)
}

// RewriteHostOctet replaces the final octet of the node's address,
// preserving its subnet. Malformed addresses are reported rather than
// silently rewritten.
func (n *Node) RewriteHostOctet(octet int) error {
	parts := strings.Split(n.Address(), ".")
	if len(parts) != 4 {
		return fmt.Errorf("node %q has malformed address %q", n.Label(), n.Address())
	}
	parts[3] = strconv.Itoa(octet)
	n.SetAddress(strings.Join(parts, "."))
	return nil
}

// HostOctet returns the final octet of the node's address, or -1 when
// the address does not parse.
func (n *Node) HostOctet() int {
	parts := strings.Split(n.Address(), ".")
	if len(parts) != 4 {
		return -1
	}
	octet, err := strconv.Atoi(parts[3])
	if err != nil {
		return -1
	}
	return octet
}

// stringField reads a userData field, tolerating numeric values the
// diagram editor sometimes emits for ids.
func (n *Node) stringField(key, def string) string {
	v, present := n.ud[key]
	if !present {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return def
	}
}

func (n *Node) intField(key string, def int) int {
	v, present := n.ud[key]
	if !present {
		return def
	}
	switch x := v.(type) {
	case float64:
		return int(x)
	case string:
		i, err := strconv.Atoi(x)
		if err != nil {
			return def
		}
		return i
	default:
		return def
	}
}
