package policyloader

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/google/cel-go/cel"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pestypig/casimirbot/warpgate/pkg/canonicalize"
	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
)

var (
	// ErrNoRuleBlock means the document has no fenced rule block.
	ErrNoRuleBlock = errors.New("policyloader: no fenced rule block")
	// ErrMultipleRuleBlocks means the document has more than one fenced rule block.
	ErrMultipleRuleBlocks = errors.New("policyloader: more than one fenced rule block")
)

// SupportedVersions is the range of document versions this core understands.
// The schema's numeric version minimum mirrors its lower bound.
var SupportedVersions = ">= 1.0.0"

//go:embed schema/policy.schema.json
var policySchemaJSON string

const policySchemaURL = "https://warpgate.schemas.local/policy.schema.json"

var (
	schemaOnce sync.Once
	schemaErr  error
	schema     *jsonschema.Schema
)

func policySchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(policySchemaURL, strings.NewReader(policySchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("policyloader: schema load failed: %w", err)
			return
		}
		schema, schemaErr = c.Compile(policySchemaURL)
	})
	return schema, schemaErr
}

var knownTopLevel = map[string]struct{}{
	"version": {}, "constraints": {}, "requiredTests": {},
	"viabilityPolicy": {}, "searchDefaults": {},
}

// rawBundle mirrors the rule block with optional fields so defaults can be
// applied only where the document is silent.
type rawBundle struct {
	Version         json.RawMessage  `json:"version"`
	Constraints     []ConstraintSpec `json:"constraints"`
	RequiredTests   []string         `json:"requiredTests"`
	ViabilityPolicy *struct {
		AdmissibleStatus                      *contracts.ViabilityStatus `json:"admissibleStatus"`
		AllowMarginalAsViable                 *bool                      `json:"allowMarginalAsViable"`
		TreatMissingCertificateAsNotCertified *bool                      `json:"treatMissingCertificateAsNotCertified"`
	} `json:"viabilityPolicy"`
	SearchDefaults *struct {
		MaxSamples  *int `json:"maxSamples"`
		Concurrency *int `json:"concurrency"`
		TopK        *int `json:"topK"`
	} `json:"searchDefaults"`
}

// ExtractRuleBlock returns the body of the single fenced block whose info
// string is "json" or "warp-policy".
func ExtractRuleBlock(doc []byte) ([]byte, error) {
	var (
		blocks  [][]byte
		current *bytes.Buffer
		fence   string
		keep    bool
	)
	sc := bufio.NewScanner(bytes.NewReader(doc))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if current == nil {
			marker, info, ok := openingFence(trimmed)
			if !ok {
				continue
			}
			fence = marker
			current = &bytes.Buffer{}
			keep = info == "json" || info == "warp-policy"
			continue
		}
		if strings.HasPrefix(trimmed, fence) && strings.Trim(trimmed, fence[:1]) == "" {
			if keep {
				blocks = append(blocks, current.Bytes())
			}
			current = nil
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("policyloader: scan: %w", err)
	}
	// An unclosed fence runs to the end of the document.
	if current != nil && keep {
		blocks = append(blocks, current.Bytes())
	}
	switch len(blocks) {
	case 0:
		return nil, ErrNoRuleBlock
	case 1:
		return blocks[0], nil
	default:
		return nil, fmt.Errorf("%w: found %d", ErrMultipleRuleBlocks, len(blocks))
	}
}

func openingFence(line string) (marker, info string, ok bool) {
	for _, ch := range []string{"`", "~"} {
		n := 0
		for n < len(line) && line[n:n+1] == ch {
			n++
		}
		if n >= 3 {
			rest := strings.TrimSpace(line[n:])
			if f := strings.Fields(rest); len(f) > 0 {
				info = strings.ToLower(f[0])
			}
			return line[:n], info, true
		}
	}
	return "", "", false
}

// Parse extracts, validates and compiles the rule block of a policy document.
func Parse(doc []byte) (*Bundle, error) {
	block, err := ExtractRuleBlock(doc)
	if err != nil {
		return nil, err
	}
	return ParseBlock(block)
}

// ParseBlock validates and compiles a bare rule block.
func ParseBlock(block []byte) (*Bundle, error) {
	var generic any
	if err := json.Unmarshal(block, &generic); err != nil {
		return nil, fmt.Errorf("policyloader: rule block is not JSON: %w", err)
	}
	sch, err := policySchema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(generic); err != nil {
		return nil, fmt.Errorf("policyloader: schema validation failed: %w", err)
	}

	var raw rawBundle
	if err := json.Unmarshal(block, &raw); err != nil {
		return nil, fmt.Errorf("policyloader: decode: %w", err)
	}

	b := &Bundle{
		Constraints:     raw.Constraints,
		RequiredTests:   raw.RequiredTests,
		ViabilityPolicy: DefaultViabilityPolicy,
		SearchDefaults:  DefaultSearchDefaults,
		index:           make(map[string]int, len(raw.Constraints)),
	}

	if b.Version, b.semver, err = parseVersion(raw.Version); err != nil {
		return nil, err
	}

	if vp := raw.ViabilityPolicy; vp != nil {
		if vp.AdmissibleStatus != nil {
			b.ViabilityPolicy.AdmissibleStatus = *vp.AdmissibleStatus
		}
		if vp.AllowMarginalAsViable != nil {
			b.ViabilityPolicy.AllowMarginalAsViable = *vp.AllowMarginalAsViable
		}
		if vp.TreatMissingCertificateAsNotCertified != nil {
			b.ViabilityPolicy.TreatMissingCertificateAsNotCertified = *vp.TreatMissingCertificateAsNotCertified
		}
	}
	if sd := raw.SearchDefaults; sd != nil {
		if sd.MaxSamples != nil {
			b.SearchDefaults.MaxSamples = *sd.MaxSamples
		}
		if sd.Concurrency != nil {
			b.SearchDefaults.Concurrency = *sd.Concurrency
		}
		if sd.TopK != nil {
			b.SearchDefaults.TopK = *sd.TopK
		}
	}

	for i, c := range b.Constraints {
		if _, dup := b.index[c.ID]; dup {
			return nil, fmt.Errorf("policyloader: duplicate constraint id %q", c.ID)
		}
		b.index[c.ID] = i
	}
	if err := b.compileRules(); err != nil {
		return nil, err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(block, &all); err != nil {
		return nil, fmt.Errorf("policyloader: decode: %w", err)
	}
	for k, v := range all {
		if _, known := knownTopLevel[k]; known {
			continue
		}
		if b.Extra == nil {
			b.Extra = make(map[string]json.RawMessage)
		}
		b.Extra[k] = v
	}

	if b.Hash, err = canonicalize.CanonicalHash(generic); err != nil {
		return nil, fmt.Errorf("policyloader: hash: %w", err)
	}
	return b, nil
}

func parseVersion(raw json.RawMessage) (string, *semver.Version, error) {
	var text string
	var num json.Number
	if err := json.Unmarshal(raw, &text); err != nil {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&num); err != nil {
			return "", nil, fmt.Errorf("policyloader: version: %w", err)
		}
		text = num.String()
	}
	v, err := semver.NewVersion(text)
	if err != nil {
		return "", nil, fmt.Errorf("policyloader: version %q: %w", text, err)
	}
	c, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return "", nil, fmt.Errorf("policyloader: supported range: %w", err)
	}
	if !c.Check(v) {
		return "", nil, fmt.Errorf("policyloader: version %s outside supported range %q", v, SupportedVersions)
	}
	return text, v, nil
}

func (b *Bundle) compileRules() error {
	var env *cel.Env
	for _, c := range b.Constraints {
		if !strings.EqualFold(c.Type, "cel") {
			continue
		}
		if env == nil {
			var err error
			if env, err = newRuleEnv(); err != nil {
				return fmt.Errorf("policyloader: cel env: %w", err)
			}
		}
		rule, err := compileRule(env, c)
		if err != nil {
			return fmt.Errorf("policyloader: %w", err)
		}
		b.rules = append(b.rules, rule)
	}
	return nil
}
