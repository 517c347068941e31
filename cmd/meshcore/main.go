package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gologme/log"
	gsyslog "github.com/hashicorp/go-syslog"
	"github.com/hjson/hjson-go/v4"
	"github.com/kardianos/minwinsvc"
	"github.com/olekukonko/tablewriter"

	"github.com/SeattleMeshnet/meshcore/src/config"
	"github.com/SeattleMeshnet/meshcore/src/contentsession"
	"github.com/SeattleMeshnet/meshcore/src/crypto"
	"github.com/SeattleMeshnet/meshcore/src/ducttape"
	"github.com/SeattleMeshnet/meshcore/src/peersession"
	"github.com/SeattleMeshnet/meshcore/src/router"
	"github.com/SeattleMeshnet/meshcore/src/switchcore"
	"github.com/SeattleMeshnet/meshcore/src/tunnel"
	"github.com/SeattleMeshnet/meshcore/src/version"
	"github.com/SeattleMeshnet/meshcore/src/wire"
)

// idleSessionTimeout bounds how long an outer session may go unused before
// Registry.EvictIdle reclaims it.
const idleSessionTimeout = 30 * time.Minute

type node struct {
	dispatcher *ducttape.Dispatcher
	tun        *tunnel.Device
	outer      *peersession.Registry
}

func main() {
	genconf := flag.Bool("genconf", false, "print a new config to stdout")
	useconf := flag.Bool("useconf", false, "read HJSON/JSON config from stdin")
	useconffile := flag.String("useconffile", "", "read HJSON/JSON config from specified file path")
	normaliseconf := flag.Bool("normaliseconf", false, "use in combination with either -useconf or -useconffile, outputs your configuration normalised")
	confjson := flag.Bool("json", false, "print configuration from -genconf or -normaliseconf as JSON instead of HJSON")
	ver := flag.Bool("version", false, "prints the version of this build")
	logto := flag.String("logto", "stdout", "file path to log to, \"syslog\" or \"stdout\"")
	getaddr := flag.Bool("address", false, "use in combination with either -useconf or -useconffile, outputs your IPv6 address")
	getpkey := flag.Bool("publickey", false, "use in combination with either -useconf or -useconffile, outputs your public key")
	loglevel := flag.String("loglevel", "info", "loglevel to enable")
	sessions := flag.Bool("sessions", false, "run in combination with -useconf or -useconffile, print the outer session table every few seconds")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	minwinsvc.SetOnExit(cancel)

	var logger *log.Logger
	switch *logto {
	case "stdout":
		logger = log.New(os.Stdout, "", log.Flags())
	case "syslog":
		if syslogger, err := gsyslog.NewLogger(gsyslog.LOG_NOTICE, "DAEMON", version.BuildName()); err == nil {
			logger = log.New(syslogger, "", log.Flags()&^(log.Ldate|log.Ltime))
		}
	default:
		if logfd, err := os.OpenFile(*logto, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			logger = log.New(logfd, "", log.Flags())
		}
	}
	if logger == nil {
		logger = log.New(os.Stdout, "", log.Flags())
		logger.Warnln("Logging defaulting to stdout")
	}
	if *normaliseconf {
		setLogLevel("error", logger)
	} else {
		setLogLevel(*loglevel, logger)
	}

	cfg := config.GenerateConfig()
	var err error
	switch {
	case *ver:
		fmt.Println("Build name:", version.BuildName())
		fmt.Println("Build version:", version.BuildVersion())
		return

	case *useconf:
		if _, err = cfg.ReadFrom(os.Stdin); err != nil {
			panic(err)
		}

	case *useconffile != "":
		f, err := os.Open(*useconffile)
		if err != nil {
			panic(err)
		}
		if _, err := cfg.ReadFrom(f); err != nil {
			panic(err)
		}
		_ = f.Close()

	case *genconf:
		var bs []byte
		if *confjson {
			bs, err = json.MarshalIndent(cfg, "", "  ")
		} else {
			bs, err = hjson.Marshal(cfg)
		}
		if err != nil {
			panic(err)
		}
		fmt.Println(string(bs))
		return

	default:
		fmt.Println("Usage:")
		flag.PrintDefaults()
		if *getaddr {
			fmt.Println("\nError: You need to specify some config data using -useconf or -useconffile.")
		}
		return
	}

	pub, priv, err := cfg.BoxKeys()
	if err != nil {
		panic(err)
	}

	switch {
	case *getaddr:
		d := ducttape.New(priv, nil, nil, nil, nil, nil)
		addr := d.Address()
		fmt.Println(net.IP(addr[:]).String())
		return

	case *getpkey:
		fmt.Println(hex.EncodeToString(pub[:]))
		return

	case *normaliseconf:
		var bs []byte
		if *confjson {
			bs, err = json.MarshalIndent(cfg, "", "  ")
		} else {
			bs, err = hjson.Marshal(cfg)
		}
		if err != nil {
			panic(err)
		}
		fmt.Println(string(bs))
		return
	}

	n := &node{}

	outer := peersession.NewRegistry(pub, priv, idleSessionTimeout)
	table := router.NewTable()
	reg := router.NewSimpleRegistry()
	inner := contentsession.NewManager(priv, nil)

	allowedKeys, err := cfg.AllowedKeys()
	if err != nil {
		panic(err)
	}
	if len(allowedKeys) > 0 {
		outer.SetAllowed(func(candidate crypto.BoxPubKey) bool {
			for _, k := range allowedKeys {
				if k == candidate {
					return true
				}
			}
			return false
		})
	}

	n.dispatcher = ducttape.New(priv, outer, inner, table, reg, logger)
	n.outer = outer
	inner.SetLookup(ducttape.NewRouterKeyLookup(table, n.dispatcher))

	fabric := switchcore.NewLoopback()
	ourLabel := wire.Label(cfg.SwitchLabel)

	var tunSink interface {
		Send(packet []byte) error
	}
	if cfg.IfName != "none" {
		tunDev, err := tunnel.New(ducttape.TunReceiver{D: n.dispatcher}, logger,
			tunnel.InterfaceName(cfg.IfName), tunnel.InterfaceMTU(cfg.IfMTU))
		if err != nil {
			panic(err)
		}
		n.tun = tunDev
		tunSink = tunDev
		logger.Infoln("Started TUN device")
	} else {
		logger.Infoln("Not starting TUN device")
	}

	if err := ducttape.Register(n.dispatcher, fabric, ourLabel, tunSink, reg); err != nil {
		panic(err)
	}

	logger.Infof("Your public key is %s", hex.EncodeToString(pub[:]))
	addr := n.dispatcher.Address()
	logger.Infof("Your IPv6 address is %s", net.IP(addr[:]).String())

	if n.tun != nil {
		// The overlay address is derived from the node's own key, known
		// only once the dispatcher exists; the device itself can't assign
		// it any earlier. fc00::/8 is a single flat address space, not a
		// per-node subnet, hence the fixed /8 prefix length.
		if err := n.tun.SetAddress(net.IP(addr[:]), 8); err != nil {
			panic(err)
		}
	}

	if *sessions {
		go reportSessions(ctx, n.outer)
	}
	go evictIdleSessions(ctx, n.outer)

	<-ctx.Done()

	logger.Infoln("Shutting down")
	if n.tun != nil {
		_ = n.tun.Stop()
	}
}

func reportSessions(ctx context.Context, outer *peersession.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		snap := outer.Snapshot()
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Label", "State", "Peer key", "Last used"})
		for _, s := range snap {
			state := "negotiating"
			if s.State == peersession.StateEstablished {
				state = "established"
			}
			table.Append([]string{
				fmt.Sprintf("%x", uint64(s.Label)),
				state,
				hex.EncodeToString(s.PeerPub[:])[:16],
				s.LastUsed.Format("15:04:05"),
			})
		}
		table.Render()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func evictIdleSessions(ctx context.Context, outer *peersession.Registry) {
	ticker := time.NewTicker(idleSessionTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			outer.EvictIdle(now)
		}
	}
}

func setLogLevel(loglevel string, logger *log.Logger) {
	levels := [...]string{"error", "warn", "info", "debug", "trace"}
	loglevel = strings.ToLower(loglevel)

	contains := func() bool {
		for _, l := range levels {
			if l == loglevel {
				return true
			}
		}
		return false
	}

	if !contains() {
		logger.Infoln("Loglevel parse failed. Set default level(info)")
		loglevel = "info"
	}

	for _, l := range levels {
		logger.EnableLevel(l)
		if l == loglevel {
			break
		}
	}
}
