// Package config loads and generates the on-disk node configuration: the
// node's box keypair, its provisional switch label, its TUN interface
// settings, and the session-firewall-style public key allow-list that
// bounds which peers may stand up an outer session with this node.
package config

import (
	"encoding/hex"
	"io"

	"github.com/hjson/hjson-go/v4"
	"github.com/mitchellh/mapstructure"

	"github.com/SeattleMeshnet/meshcore/src/crypto"
)

// Config is the node's persisted configuration.
type Config struct {
	PrivateKey string `comment:"Your private key in hex form. DO NOT share this with anyone!"`
	SwitchLabel uint64 `comment:"The switch label this node advertises to peers before a real\nlabel has been negotiated by the switch fabric. Most deployments\ncan leave this at 0 and let the fabric assign one."`
	IfName     string `comment:"Local network interface name for the TUN adapter, or \"auto\" to\nselect one automatically, or \"none\" to run without a TUN device."`
	IfMTU      uint64 `comment:"MTU for the local TUN interface. The lowest usable value is 1280."`
	AllowedPublicKeys []string `comment:"List of peer public keys, in hex, allowed to establish an outer\nsession with this node. If empty, every peer is allowed; this\nmirrors the session firewall's whitelist behaviour without the\nfull allow/deny rule set."`
}

// GenerateConfig returns a fresh Config with a newly generated keypair and
// this platform's default TUN settings, suitable for -genconf.
func GenerateConfig() *Config {
	_, priv := crypto.NewBoxKeys()
	d := getDefaults()
	return &Config{
		PrivateKey:        hex.EncodeToString(priv[:]),
		SwitchLabel:       0,
		IfName:            d.DefaultIfName,
		IfMTU:             d.DefaultIfMTU,
		AllowedPublicKeys: []string{},
	}
}

// ReadFrom decodes HJSON or JSON configuration from r into cfg, following
// the hjson.Unmarshal-then-mapstructure.Decode pattern used throughout this
// codebase's predecessor: unmarshal loosely into a map first so unknown or
// renamed keys don't hard-fail the decode, then decode that map onto the
// typed struct.
func (cfg *Config) ReadFrom(r io.Reader) (int64, error) {
	bs, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	var dat map[string]interface{}
	if err := hjson.Unmarshal(bs, &dat); err != nil {
		return int64(len(bs)), err
	}
	if err := mapstructure.Decode(dat, cfg); err != nil {
		return int64(len(bs)), err
	}
	return int64(len(bs)), nil
}

// BoxKeys decodes PrivateKey and derives the matching public key.
func (cfg *Config) BoxKeys() (crypto.BoxPubKey, crypto.BoxPrivKey, error) {
	raw, err := hex.DecodeString(cfg.PrivateKey)
	if err != nil {
		return crypto.BoxPubKey{}, crypto.BoxPrivKey{}, err
	}
	var priv crypto.BoxPrivKey
	copy(priv[:], raw)
	return priv.Public(), priv, nil
}

// AllowedKeys decodes AllowedPublicKeys into box keys. The first entry that
// fails to parse as hex stops the decode: AllowedKeys then returns no keys
// and that entry's error.
func (cfg *Config) AllowedKeys() ([]crypto.BoxPubKey, error) {
	keys := make([]crypto.BoxPubKey, 0, len(cfg.AllowedPublicKeys))
	for _, s := range cfg.AllowedPublicKeys {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, err
		}
		var k crypto.BoxPubKey
		copy(k[:], raw)
		keys = append(keys, k)
	}
	return keys, nil
}
