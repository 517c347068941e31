package config

// platformDefaultParameters holds the TUN defaults applied by GenerateConfig.
// The teacher carries one defaults_<os>.go per supported platform; this port
// keeps a single set since the tunnel package itself is Linux-only (see
// src/tunnel/tun_linux.go) and there is no other platform to diverge for.
type platformDefaultParameters struct {
	DefaultIfName string
	DefaultIfMTU  uint64
}

func getDefaults() platformDefaultParameters {
	return platformDefaultParameters{
		DefaultIfName: "auto",
		DefaultIfMTU:  65535,
	}
}
