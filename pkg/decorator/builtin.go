package decorator

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/aretw0/parley/pkg/domain"
)

// Built-in decorator types.
const (
	TypeOnlyFirstTime      = "only_first_time"
	TypeMaxVisits          = "max_visits"
	TypeVarEquals          = "var_equals"
	TypeVarExists          = "var_exists"
	TypeParticipantPresent = "participant_present"
	TypeSendCommand        = "send_command"
	TypeSetVar             = "set_var"
	TypeIncrementVar       = "increment_var"
	TypeDeleteVar          = "delete_var"
	TypeSelectRandomRow    = "select_random_row"
	TypeSaveNodeAsStart    = "save_node_as_start"
	TypeSwapParticipants   = "swap_participants"
	TypeOverridePayload    = "override_payload"
)

// Builtin returns a new, unfrozen registry holding the built-in decorators.
func Builtin() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}

// RegisterBuiltins adds the built-in decorators to r.
func RegisterBuiltins(r *Registry) {
	r.MustRegister(TypeOnlyFirstTime, Behavior{
		Kind:        domain.KindCondition,
		Description: "allows only while the node has never been entered",
		Evaluate:    onlyFirstTime,
		Validate:    validatorFor[nodeConfig](nil),
	})
	r.MustRegister(TypeMaxVisits, Behavior{
		Kind:        domain.KindCondition,
		Description: "allows while the node has been entered fewer than max times",
		Evaluate:    maxVisits,
		Validate: validatorFor(func(c *maxVisitsConfig) error {
			if c.Max < 1 {
				return errors.New("max must be at least 1")
			}
			return nil
		}),
	})
	r.MustRegister(TypeVarEquals, Behavior{
		Kind:        domain.KindCondition,
		Description: "allows when an instance variable equals a value",
		Evaluate:    varEquals,
		Validate:    validatorFor(requireKey[varEqualsConfig]),
	})
	r.MustRegister(TypeVarExists, Behavior{
		Kind:        domain.KindCondition,
		Description: "allows when an instance variable is set (or unset with negate)",
		Evaluate:    varExists,
		Validate:    validatorFor(requireKey[varExistsConfig]),
	})
	r.MustRegister(TypeParticipantPresent, Behavior{
		Kind:        domain.KindCondition,
		Description: "allows when a live participant holds the role",
		Evaluate:    participantPresent,
		Validate: validatorFor(func(c *roleConfig) error {
			if c.Role == "" {
				return errors.New("role is required")
			}
			return nil
		}),
	})
	r.MustRegister(TypeSendCommand, Behavior{
		Kind:        domain.KindEvent,
		Description: "emits an authoritative command to a participant",
		Execute:     sendCommand,
		Validate: validatorFor(func(c *sendCommandConfig) error {
			if c.Command == "" {
				return errors.New("command is required")
			}
			return nil
		}),
	})
	r.MustRegister(TypeSetVar, Behavior{
		Kind:        domain.KindModifier,
		Description: "sets an instance variable",
		Execute:     setVar,
		Validate:    validatorFor(requireKey[setVarConfig]),
	})
	r.MustRegister(TypeIncrementVar, Behavior{
		Kind:        domain.KindModifier,
		Description: "adds to a numeric instance variable",
		Execute:     incrementVar,
		Validate:    validatorFor(requireKey[incrementVarConfig]),
	})
	r.MustRegister(TypeDeleteVar, Behavior{
		Kind:        domain.KindModifier,
		Description: "removes an instance variable",
		Execute:     deleteVar,
		Validate:    validatorFor(requireKey[keyConfig]),
	})
	r.MustRegister(TypeSelectRandomRow, Behavior{
		Kind:        domain.KindModifier,
		Description: "stores a reproducible random integer in [min, max]",
		Execute:     selectRandomRow,
		Validate:    validatorFor(requireKey[randomRowConfig]),
	})
	r.MustRegister(TypeSaveNodeAsStart, Behavior{
		Kind:        domain.KindModifier,
		Description: "records the node as the entry point of the next session",
		Execute:     saveNodeAsStart,
		Validate:    validatorFor[nodeConfig](nil),
	})
	r.MustRegister(TypeSwapParticipants, Behavior{
		Kind:        domain.KindModifier,
		Description: "swaps the actors bound to two roles",
		Execute:     swapParticipants,
		Validate:    validatorFor[swapConfig](nil),
	})
	r.MustRegister(TypeOverridePayload, Behavior{
		Kind:        domain.KindModifier,
		Description: "replaces the text or speaker announced for the node in this instance",
		Execute:     overridePayload,
		Validate: validatorFor(func(c *overridePayloadConfig) error {
			if c.TextKey == "" && c.Speaker == "" && len(c.Metadata) == 0 {
				return errors.New("text_key, speaker or metadata is required")
			}
			return nil
		}),
	})
}

type keyed interface{ key() string }

type keyConfig struct {
	Key string `mapstructure:"key"`
}

func (c keyConfig) key() string { return c.Key }

func requireKey[T keyed](c *T) error {
	if (*c).key() == "" {
		return errors.New("key is required")
	}
	return nil
}

type nodeConfig struct {
	Node string `mapstructure:"node"`
}

func (c nodeConfig) nodeOr(t Target) string {
	if c.Node != "" {
		return c.Node
	}
	return t.NodeID()
}

type maxVisitsConfig struct {
	Node string `mapstructure:"node"`
	Max  int    `mapstructure:"max"`
}

type varEqualsConfig struct {
	Key   string `mapstructure:"key"`
	Value any    `mapstructure:"value"`
}

func (c varEqualsConfig) key() string { return c.Key }

type varExistsConfig struct {
	Key    string `mapstructure:"key"`
	Negate bool   `mapstructure:"negate"`
}

func (c varExistsConfig) key() string { return c.Key }

type roleConfig struct {
	Role domain.Role `mapstructure:"role"`
}

type sendCommandConfig struct {
	Command string         `mapstructure:"command"`
	Payload map[string]any `mapstructure:"payload"`
	Role    domain.Role    `mapstructure:"role"`
}

type setVarConfig struct {
	Key   string `mapstructure:"key"`
	Value any    `mapstructure:"value"`
}

func (c setVarConfig) key() string { return c.Key }

type incrementVarConfig struct {
	Key string `mapstructure:"key"`
	By  *int   `mapstructure:"by"`
}

func (c incrementVarConfig) key() string { return c.Key }

type randomRowConfig struct {
	Key string `mapstructure:"key"`
	Min int    `mapstructure:"min"`
	Max int    `mapstructure:"max"`
}

func (c randomRowConfig) key() string { return c.Key }

type overridePayloadConfig struct {
	Node          string            `mapstructure:"node"`
	TextKey       string            `mapstructure:"text_key"`
	Speaker       string            `mapstructure:"speaker"`
	Metadata      map[string]string `mapstructure:"metadata"`
	OnlyFirstTime bool              `mapstructure:"only_first_time"`
}

type swapConfig struct {
	A domain.Role `mapstructure:"a"`
	B domain.Role `mapstructure:"b"`
}

func onlyFirstTime(_ context.Context, view View, t Target, config map[string]any) (Verdict, error) {
	var cfg nodeConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return Deny, err
	}
	return Verdict(view.Visits(cfg.nodeOr(t)) == 0), nil
}

func maxVisits(_ context.Context, view View, t Target, config map[string]any) (Verdict, error) {
	var cfg maxVisitsConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return Deny, err
	}
	node := nodeConfig{Node: cfg.Node}.nodeOr(t)
	return Verdict(view.Visits(node) < cfg.Max), nil
}

func varEquals(_ context.Context, view View, _ Target, config map[string]any) (Verdict, error) {
	var cfg varEqualsConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return Deny, err
	}
	v, ok := view.Var(cfg.Key)
	if !ok {
		return Deny, nil
	}
	// Compare textual forms so "3" authored in YAML matches a numeric 3.
	return Verdict(fmt.Sprint(v) == fmt.Sprint(cfg.Value)), nil
}

func varExists(_ context.Context, view View, _ Target, config map[string]any) (Verdict, error) {
	var cfg varExistsConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return Deny, err
	}
	_, ok := view.Var(cfg.Key)
	return Verdict(ok != cfg.Negate), nil
}

func participantPresent(_ context.Context, view View, _ Target, config map[string]any) (Verdict, error) {
	var cfg roleConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return Deny, err
	}
	p, ok := view.Participant(cfg.Role)
	return Verdict(ok && p.Actor != nil && p.Actor.Alive()), nil
}

func sendCommand(_ context.Context, scope Scope, t Target, config map[string]any) error {
	var cfg sendCommandConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return err
	}
	cmd := domain.Command{
		Name:        cfg.Command,
		Payload:     cfg.Payload,
		Role:        cfg.Role,
		DecoratorID: t.Decorator.ID,
		NodeID:      t.NodeID(),
	}
	if cfg.Role != "" {
		p, ok := scope.Participant(cfg.Role)
		if !ok {
			return fmt.Errorf("no participant with role %s", cfg.Role)
		}
		cmd.ActorID = p.Actor.ActorID()
	}
	scope.Emit(cmd)
	return nil
}

func setVar(_ context.Context, scope Scope, _ Target, config map[string]any) error {
	var cfg setVarConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return err
	}
	scope.SetVar(cfg.Key, cfg.Value)
	return nil
}

func incrementVar(_ context.Context, scope Scope, _ Target, config map[string]any) error {
	var cfg incrementVarConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return err
	}
	by := 1
	if cfg.By != nil {
		by = *cfg.By
	}
	current := 0
	if v, ok := scope.Var(cfg.Key); ok {
		n, err := toInt(v)
		if err != nil {
			return fmt.Errorf("variable %s: %w", cfg.Key, err)
		}
		current = n
	}
	scope.SetVar(cfg.Key, current+by)
	return nil
}

func deleteVar(_ context.Context, scope Scope, _ Target, config map[string]any) error {
	var cfg keyConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return err
	}
	scope.DeleteVar(cfg.Key)
	return nil
}

// selectRandomRow draws from a generator seeded by the instance, the decorator
// and a per-instance draw counter, so a restored instance repeats the same draws.
func selectRandomRow(_ context.Context, scope Scope, t Target, config map[string]any) error {
	var cfg randomRowConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return err
	}
	lo, hi := cfg.Min, cfg.Max
	if lo > hi {
		lo, hi = hi, lo
	}

	draws := 0
	if blob := scope.State(t.Decorator.ID); len(blob) > 0 {
		n, err := strconv.Atoi(string(blob))
		if err != nil {
			return fmt.Errorf("corrupt draw counter: %w", err)
		}
		draws = n
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d", scope.InstanceID(), t.Decorator.ID, draws)))
	rng := rand.New(rand.NewPCG(binary.LittleEndian.Uint64(sum[:8]), binary.LittleEndian.Uint64(sum[8:16])))

	scope.SetVar(cfg.Key, lo+rng.IntN(hi-lo+1))
	scope.SetState(t.Decorator.ID, []byte(strconv.Itoa(draws+1)))
	return nil
}

func saveNodeAsStart(_ context.Context, scope Scope, t Target, config map[string]any) error {
	var cfg nodeConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return err
	}
	node := cfg.nodeOr(t)
	if node == "" {
		return errors.New("no node to save")
	}
	scope.SaveEntryNode(node)
	return nil
}

func swapParticipants(_ context.Context, scope Scope, _ Target, config map[string]any) error {
	var cfg swapConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return err
	}
	if cfg.A == "" {
		cfg.A = domain.RoleInitiator
	}
	if cfg.B == "" {
		cfg.B = domain.RoleResponder
	}
	return scope.SwapParticipants(cfg.A, cfg.B)
}

// overridePayload runs on node entry, after the visit was counted. With
// only_first_time the override is dropped again on later visits.
func overridePayload(_ context.Context, scope Scope, t Target, config map[string]any) error {
	var cfg overridePayloadConfig
	if err := DecodeConfig(config, &cfg); err != nil {
		return err
	}
	node := nodeConfig{Node: cfg.Node}.nodeOr(t)
	if node == "" {
		return errors.New("no node to override")
	}
	if cfg.OnlyFirstTime && scope.Visits(node) > 1 {
		scope.OverridePayload(node, nil)
		return nil
	}

	var p domain.Payload
	if t.Node != nil && t.Node.ID == node {
		p = t.Node.Payload.Clone()
	}
	if cfg.TextKey != "" {
		p.TextKey = cfg.TextKey
	}
	if cfg.Speaker != "" {
		p.Speaker = cfg.Speaker
	}
	for k, v := range cfg.Metadata {
		if p.Metadata == nil {
			p.Metadata = make(map[string]string, len(cfg.Metadata))
		}
		p.Metadata[k] = v
	}
	scope.OverridePayload(node, &p)
	return nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		return int(i), err
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
