package config

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestGenerateConfigProducesUsableKeys(t *testing.T) {
	cfg := GenerateConfig()

	raw, err := hex.DecodeString(cfg.PrivateKey)
	if err != nil {
		t.Fatal("could not decode generated private key:", err)
	}
	if len(raw) == 0 {
		t.Fatal("empty private key generated")
	}

	pub, _, err := cfg.BoxKeys()
	if err != nil {
		t.Fatal("BoxKeys failed on a freshly generated config:", err)
	}
	if pub == ([32]byte{}) {
		t.Fatal("derived public key is all zero")
	}
}

func TestGenerateConfigKeysDiffer(t *testing.T) {
	a := GenerateConfig()
	b := GenerateConfig()
	if a.PrivateKey == b.PrivateKey {
		t.Fatal("two successive GenerateConfig calls produced the same private key")
	}
}

func TestReadFromDecodesHjson(t *testing.T) {
	cfg := GenerateConfig()
	input := `{
		IfName: tun0
		IfMTU: 1500
		SwitchLabel: 7
		AllowedPublicKeys: ["aabbcc"]
	}`
	if _, err := cfg.ReadFrom(strings.NewReader(input)); err != nil {
		t.Fatal("ReadFrom failed on well-formed hjson:", err)
	}
	if cfg.IfName != "tun0" {
		t.Fatalf("expected IfName tun0, got %q", cfg.IfName)
	}
	if cfg.IfMTU != 1500 {
		t.Fatalf("expected IfMTU 1500, got %d", cfg.IfMTU)
	}
	if cfg.SwitchLabel != 7 {
		t.Fatalf("expected SwitchLabel 7, got %d", cfg.SwitchLabel)
	}
	if len(cfg.AllowedPublicKeys) != 1 || cfg.AllowedPublicKeys[0] != "aabbcc" {
		t.Fatalf("unexpected AllowedPublicKeys: %v", cfg.AllowedPublicKeys)
	}
}

func TestAllowedKeysRejectsBadHex(t *testing.T) {
	cfg := GenerateConfig()
	cfg.AllowedPublicKeys = []string{"not-hex"}
	if _, err := cfg.AllowedKeys(); err == nil {
		t.Fatal("expected an error decoding a malformed allow-list entry")
	}
}

func TestGenerateConfigUsesPlatformDefaults(t *testing.T) {
	cfg := GenerateConfig()
	d := getDefaults()
	if cfg.IfName != d.DefaultIfName {
		t.Fatalf("expected default IfName %q, got %q", d.DefaultIfName, cfg.IfName)
	}
	if cfg.IfMTU != d.DefaultIfMTU {
		t.Fatalf("expected default IfMTU %d, got %d", d.DefaultIfMTU, cfg.IfMTU)
	}
}
