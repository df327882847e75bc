package gateway

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type CloseAction string

const (
	CloseResume     CloseAction = "resume"
	CloseReidentify CloseAction = "reidentify"
	CloseFatal      CloseAction = "fatal"
)

func (a CloseAction) valid() bool {
	return a == CloseResume || a == CloseReidentify || a == CloseFatal
}

type CloseCode struct {
	Code   int         `yaml:"code"`
	Name   string      `yaml:"name"`
	Action CloseAction `yaml:"action"`
}

// CloseCodes maps gateway close codes to the client's reaction. The table is
// data because the service adds codes over time.
type CloseCodes struct {
	Version int         `yaml:"version"`
	Default CloseAction `yaml:"default"`
	Codes   []CloseCode `yaml:"codes"`

	byCode map[int]CloseCode
}

//go:embed closecodes.yaml
var builtinCloseCodes []byte

// DefaultCloseCodes returns the table shipped with the client.
func DefaultCloseCodes() *CloseCodes {
	table, err := ParseCloseCodes(builtinCloseCodes)
	if err != nil {
		panic(fmt.Sprintf("gateway: builtin close code table: %v", err))
	}
	return table
}

// LoadCloseCodes reads a replacement table from path.
func LoadCloseCodes(path string) (*CloseCodes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read close code table: %w", err)
	}
	return ParseCloseCodes(data)
}

func ParseCloseCodes(data []byte) (*CloseCodes, error) {
	var table CloseCodes
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("could not parse close code table: %w", err)
	}
	if table.Default == "" {
		table.Default = CloseResume
	}
	if !table.Default.valid() {
		return nil, fmt.Errorf("close code table: invalid default action %q", table.Default)
	}

	table.byCode = make(map[int]CloseCode, len(table.Codes))
	for _, code := range table.Codes {
		if !code.Action.valid() {
			return nil, fmt.Errorf("close code %d: invalid action %q", code.Code, code.Action)
		}
		if _, dup := table.byCode[code.Code]; dup {
			return nil, fmt.Errorf("close code %d listed twice", code.Code)
		}
		table.byCode[code.Code] = code
	}
	return &table, nil
}

// Classify returns the entry for code, or a synthesized one carrying the
// default action.
func (t *CloseCodes) Classify(code int) CloseCode {
	if entry, ok := t.byCode[code]; ok {
		return entry
	}
	return CloseCode{Code: code, Name: "unlisted", Action: t.Default}
}
