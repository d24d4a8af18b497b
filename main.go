package main

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tomhenderson/epidemic-routing/helper"
	"github.com/tomhenderson/epidemic-routing/packet"
	"github.com/tomhenderson/epidemic-routing/routing"
	"github.com/tomhenderson/epidemic-routing/stack/udp"
	"github.com/tomhenderson/epidemic-routing/utils"
)

var (
	addr             string
	mask             string
	uiPort           string
	statusPort       string
	hopCount         uint32
	queueLength      uint32
	queueExpire      time.Duration
	hostRecentPeriod time.Duration
	beaconInterval   time.Duration
	beaconJitterMs   uint32
	verbose          bool
)

var rootCmd = &cobra.Command{
	Use:   "epidemic-routing",
	Short: "Store-carry-forward epidemic routing node",
	Long: "Runs one epidemic routing agent: it beacons on the local subnet, " +
		"reconciles packet buffers with every node it encounters and carries " +
		"user datagrams until they reach their destination or expire.",
	RunE: runNode,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "", "IPv4 address of the radio interface (required)")
	rootCmd.Flags().StringVar(&mask, "mask", "255.255.255.0", "netmask of the radio interface")
	rootCmd.Flags().StringVar(&uiPort, "ui-port", "8080", "UDP port for the client on 127.0.0.1")
	rootCmd.Flags().StringVar(&statusPort, "status-port", "", "HTTP status port, empty to disable")
	rootCmd.Flags().Uint32Var(&hopCount, "hop-count", 64, "hop budget stamped on local packets")
	rootCmd.Flags().Uint32Var(&queueLength, "queue-length", 64, "maximum number of buffered packets")
	rootCmd.Flags().DurationVar(&queueExpire, "queue-entry-expire-time", 100*time.Second, "packet lifetime from its origin timestamp")
	rootCmd.Flags().DurationVar(&hostRecentPeriod, "host-recent-period", 10*time.Second, "anti-entropy cool-down per peer")
	rootCmd.Flags().DurationVar(&beaconInterval, "beacon-interval", time.Second, "time between beacon broadcasts")
	rootCmd.Flags().Uint32Var(&beaconJitterMs, "beacon-randomness", 100, "beacon jitter upper bound in milliseconds")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "debug logging")
}

func runNode(cmd *cobra.Command, args []string) error {
	if verbose {
		helper.Log.SetLevel(logrus.DebugLevel)
	}
	if !utils.ValidIPv4(addr) {
		return &helper.IllegalArgumentError{
			ErrorMessage: "addr must be a valid IPv4 address",
			Where:        "main.go",
		}
	}
	if !utils.ValidNetmask(mask) {
		return &helper.IllegalArgumentError{
			ErrorMessage: "mask must be a contiguous IPv4 netmask",
			Where:        "main.go",
		}
	}
	if !utils.ValidPort(uiPort) {
		return &helper.IllegalArgumentError{
			ErrorMessage: "ui-port is not a valid port",
			Where:        "main.go",
		}
	}

	local, err := packet.ParseAddress(addr)
	if err != nil {
		return err
	}
	netmask, err := packet.ParseAddress(mask)
	if err != nil {
		return err
	}
	iface := packet.InterfaceAddress{Local: local, Mask: netmask}

	st := udp.StackFactory()
	agent := routing.AgentFactory(routing.Config{
		HopCount:             hopCount,
		QueueLength:          queueLength,
		QueueEntryExpireTime: queueExpire,
		HostRecentPeriod:     hostRecentPeriod,
		BeaconInterval:       beaconInterval,
		BeaconMaxJitter:      time.Duration(beaconJitterMs) * time.Millisecond,
	}, st)

	node, err := nodeFactory(st, agent, iface)
	if err != nil {
		return err
	}

	st.Post(func() {
		agent.NotifyInterfaceUp(loopbackDevice, packet.InterfaceAddress{
			Local: packet.AddressLoopback,
			Mask:  0xFF000000,
		})
		agent.NotifyInterfaceUp(radioDevice, iface)
		agent.Start()
	})

	go node.uiListener(uiPort)
	if statusPort != "" {
		go statusServer(node, statusPort)
	}

	helper.Log.WithField("addr", addr).Info("epidemic node running")
	st.Run()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		helper.Log.Fatal(err)
	}
}
