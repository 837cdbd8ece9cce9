// Package ecconf parses the codec profile that selects an object's
// erasure-coding geometry and plugin: the "plugin", "k", "m",
// "chunk-size", "mapping", "crush-root" and "crush-ruleset" keys of a
// bucket-property-style key/value bag, the same shape the teacher's
// api/apc profile structs accept. Other crush-* keys are ignored.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package ecconf

import (
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/NVIDIA/aistore/ec2"
	"github.com/NVIDIA/aistore/ec2/codec"
	"github.com/NVIDIA/aistore/ec2/codec/clay"
	"github.com/NVIDIA/aistore/ec2/codec/reedsolomon"
	"github.com/NVIDIA/aistore/ec2/stripe"
)

// Plugin names accepted by the "plugin" key.
const (
	PluginReedSolomon = "reedsolomon"
	PluginClay        = "clay" // reedsolomon base + CLAY partial-write hook
)

// Profile is the parsed, validated codec profile for one bucket or
// object class. CrushRoot/CrushRuleset are carried through verbatim and
// never interpreted here: CRUSH rule creation is out of scope for this
// core, but the keys still round-trip through a profile that may have
// originated from a bucket-property bag that already carries them.
type Profile struct {
	Plugin       string           `json:"plugin"`
	K            int              `json:"k"`
	M            int              `json:"m"`
	ChunkSize    int64            `json:"chunk_size"`
	Mapping      []stripe.ShardId `json:"mapping,omitempty"`
	CrushRoot    string           `json:"crush-root,omitempty"`
	CrushRuleset string           `json:"crush-ruleset,omitempty"`
}

// ParseProfile reads a Profile out of a flat string-keyed property bag,
// the same shape the teacher stores bucket properties in. Unrecognized
// keys are ignored; missing "plugin" defaults to PluginReedSolomon.
func ParseProfile(kv map[string]string) (*Profile, error) {
	p := &Profile{Plugin: PluginReedSolomon, ChunkSize: 1 << 20}

	if v, ok := kv["plugin"]; ok && v != "" {
		p.Plugin = v
	}
	var err error
	if p.K, err = parseIntKV(kv, "k", 0); err != nil {
		return nil, err
	}
	if p.M, err = parseIntKV(kv, "m", 0); err != nil {
		return nil, err
	}
	cs, err := parseIntKV(kv, "chunk-size", int(p.ChunkSize))
	if err != nil {
		return nil, err
	}
	p.ChunkSize = int64(cs)
	if v, ok := kv["mapping"]; ok && v != "" {
		mapping, err := parseMapping(v)
		if err != nil {
			return nil, err
		}
		p.Mapping = mapping
	}
	p.CrushRoot = kv["crush-root"]
	p.CrushRuleset = kv["crush-ruleset"]

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func parseIntKV(kv map[string]string, key string, dflt int) (int, error) {
	v, ok := kv[key]
	if !ok || v == "" {
		return dflt, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ec2.ErrInvalidGeometry{Reason: "bad " + key + " value: " + v}
	}
	return n, nil
}

// parseMapping accepts a comma-separated list of raw-shard-index ->
// ShardId permutation entries, e.g. "2,0,1" meaning raw shard 0 maps to
// ShardId 2.
func parseMapping(v string) ([]stripe.ShardId, error) {
	parts := strings.Split(v, ",")
	out := make([]stripe.ShardId, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return nil, &ec2.ErrInvalidGeometry{Reason: "bad mapping entry: " + part}
		}
		out[i] = stripe.ShardId(n)
	}
	return out, nil
}

// Validate reports whether the profile names a known plugin and has
// geometry fields in range; full bijection/divisibility checks are left
// to stripe.New, which Profile.BuildStripeInfo calls.
func (p *Profile) Validate() error {
	switch p.Plugin {
	case PluginReedSolomon, PluginClay:
	default:
		return &ec2.ErrInvalidGeometry{Reason: "unknown codec plugin: " + p.Plugin}
	}
	if p.K <= 0 {
		return &ec2.ErrInvalidGeometry{Reason: "k must be positive"}
	}
	if p.M < 0 {
		return &ec2.ErrInvalidGeometry{Reason: "m must be non-negative"}
	}
	if p.ChunkSize <= 0 {
		return &ec2.ErrInvalidGeometry{Reason: "chunk_size must be positive"}
	}
	return nil
}

// BuildStripeInfo constructs the stripe geometry this profile
// describes. features reports what the resolved codec can do, since
// StripeInfo and Codec features travel together.
func (p *Profile) BuildStripeInfo(features stripe.Features) (*stripe.Info, error) {
	return stripe.New(p.K, p.M, p.ChunkSize, p.Mapping, features)
}

// BuildCodec constructs the ErasureCodec this profile names.
func (p *Profile) BuildCodec() (codec.Codec, error) {
	base, err := reedsolomon.New(p.K, p.M, p.Mapping)
	if err != nil {
		return nil, err
	}
	switch p.Plugin {
	case PluginClay:
		return clay.New(base), nil
	default:
		return base, nil
	}
}

// MarshalJSON/UnmarshalJSON round-trip a Profile over the wire (e.g. as
// part of a bucket-property blob), using jsoniter the same way the
// teacher's own property bags do.
func (p *Profile) MarshalJSON() ([]byte, error) {
	type alias Profile
	return jsoniter.Marshal((*alias)(p))
}

func (p *Profile) UnmarshalJSON(data []byte) error {
	type alias Profile
	return jsoniter.Unmarshal(data, (*alias)(p))
}
