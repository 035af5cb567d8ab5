package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type Group int

const (
	GroupDevice Group = iota
	GroupBootloader
	GroupPartitions
	GroupRoot
	GroupExploit
)

func (g Group) String() string {
	switch g {
	case GroupBootloader:
		return "Bootloader"
	case GroupPartitions:
		return "Partitions"
	case GroupRoot:
		return "Root"
	case GroupExploit:
		return "Exploits"
	default:
		return "Device"
	}
}

// InlineWhole asks the dispatcher to surface the whole response object as the
// inline result.
const InlineWhole = "*"

// Operation is one entry of the closed operation catalog.
type Operation struct {
	ID string
	// Endpoint is the backend action substituted into the endpoint template.
	// Empty means ID.
	Endpoint    string
	Label       string
	Group       Group
	Destructive bool
	Prompt      string
	InlineField string
	Streams     bool
	Schema      string
	Defaults    map[string]any
	// Done is logged after the operation finished cleanly.
	Done string
}

func (o Operation) endpoint() string {
	if o.Endpoint != "" {
		return o.Endpoint
	}
	return o.ID
}

type entry struct {
	op     Operation
	schema *jsonschema.Schema
}

// Catalog resolves operation ids once, at construction.
type Catalog struct {
	ops  []Operation
	byID map[string]entry
}

func NewCatalog(ops ...Operation) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]entry, len(ops))}
	for _, op := range ops {
		if op.ID == "" {
			return nil, fmt.Errorf("catalog: operation without id")
		}
		if _, dup := c.byID[op.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate operation %q", op.ID)
		}
		e := entry{op: op}
		if op.Schema != "" {
			compiled, err := compileSchema(op.ID, op.Schema)
			if err != nil {
				return nil, err
			}
			e.schema = compiled
		}
		c.byID[op.ID] = e
		c.ops = append(c.ops, op)
	}
	return c, nil
}

func compileSchema(id, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://kn3aux.local/operations/%s.schema.json", id)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("catalog schema load failed for %q: %w", id, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("catalog schema compile failed for %q: %w", id, err)
	}
	return compiled, nil
}

func (c *Catalog) Lookup(id string) (Operation, bool) {
	e, ok := c.byID[id]
	return e.op, ok
}

// Operations lists the catalog in declaration order.
func (c *Catalog) Operations() []Operation {
	out := make([]Operation, len(c.ops))
	copy(out, c.ops)
	return out
}

// Params merges the operation defaults under the caller's parameters.
func (c *Catalog) Params(id string, params map[string]any) map[string]any {
	e := c.byID[id]
	out := make(map[string]any, len(e.op.Defaults)+len(params))
	for k, v := range e.op.Defaults {
		out[k] = v
	}
	for k, v := range params {
		out[k] = v
	}
	return out
}

// Validate checks params against the operation's schema, if it has one.
func (c *Catalog) Validate(id string, params map[string]any) error {
	e, ok := c.byID[id]
	if !ok {
		return &ConfigError{Operation: id, Err: ErrUnknownOperation}
	}
	if e.schema == nil {
		return nil
	}
	// The validator only understands decoded JSON values.
	raw, err := json.Marshal(params)
	if err != nil {
		return &ConfigError{Operation: id, Err: fmt.Errorf("%w: %v", ErrInvalidParameters, err)}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &ConfigError{Operation: id, Err: fmt.Errorf("%w: %v", ErrInvalidParameters, err)}
	}
	if err := e.schema.Validate(doc); err != nil {
		return &ConfigError{Operation: id, Err: fmt.Errorf("%w: %v", ErrInvalidParameters, err)}
	}
	return nil
}

const partitionSchema = `{
	"type": "object",
	"required": ["partition"],
	"properties": {
		"partition": {"type": "string", "minLength": 1},
		"output_file": {"type": "string"},
		"input_file": {"type": "string"}
	}
}`

const unlockSchema = `{
	"type": "object",
	"properties": {
		"partitions": {"type": "array", "items": {"type": "string", "minLength": 1}},
		"lock": {"type": "boolean"}
	}
}`

// DefaultCatalog is the MTK tool surface.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Operation{ID: "detect", Label: "Detect device", Group: GroupDevice, InlineField: InlineWhole},
		Operation{
			ID: "unlock-bootloader", Label: "Unlock bootloader", Group: GroupBootloader,
			Destructive: true, Streams: true, Schema: unlockSchema,
			Prompt:   "WARNING: This will ERASE ALL DATA and unlock bootloader. Continue?",
			Defaults: map[string]any{"partitions": []string{"metadata", "userdata", "md_udc"}},
			Done:     "🎉 Bootloader unlocked!",
		},
		Operation{
			ID: "lock-bootloader", Endpoint: "unlock-bootloader", Label: "Lock bootloader", Group: GroupBootloader,
			Destructive: true, Streams: true, Schema: unlockSchema,
			Prompt:   "WARNING: Locking bootloader with custom ROM may brick device. Continue?",
			Defaults: map[string]any{"lock": true},
			Done:     "🔒 Bootloader locked",
		},
		Operation{ID: "print-gpt", Label: "Print GPT", Group: GroupPartitions, InlineField: "gpt_table"},
		Operation{
			ID: "read-partition", Label: "Read partition", Group: GroupPartitions, Streams: true,
			Schema: partitionSchema,
		},
		Operation{
			ID: "write-partition", Label: "Write partition", Group: GroupPartitions, Streams: true,
			Destructive: true, Schema: partitionSchema,
			Prompt: "WARNING: Writing a partition overwrites its contents. Continue?",
		},
		Operation{
			ID: "erase-partition", Label: "Erase partition", Group: GroupPartitions, Streams: true,
			Destructive: true, Schema: partitionSchema,
			Prompt: "WARNING: This will ERASE the partition. Continue?",
		},
		Operation{
			ID: "dump-all", Label: "Dump all partitions", Group: GroupPartitions, Streams: true,
			Defaults: map[string]any{"output_dir": "~/kn3aux_backups/mtk_dump"},
		},
		Operation{ID: "root-magisk", Label: "Root with Magisk", Group: GroupRoot, InlineField: "instructions"},
		Operation{
			ID: "bypass-sla", Label: "Bypass SLA/DA", Group: GroupExploit,
			Done: "SLA/DA bypassed - ready for operations",
		},
		Operation{
			ID: "crash-da", Label: "Crash DA", Group: GroupExploit,
			Done: "DA crash sent - reconnect to BROM",
		},
		Operation{ID: "read-preloader", Label: "Read preloader", Group: GroupExploit, Streams: true},
		Operation{ID: "read-brom", Label: "Read BROM", Group: GroupExploit, Streams: true},
		Operation{ID: "generate-keys", Label: "Generate RPMB keys", Group: GroupExploit},
	)
	if err != nil {
		panic(err)
	}
	return c
}
