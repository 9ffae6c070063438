package main

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/glinharesb/sep-go/internal/client"
)

// dial is replaced in tests.
var dial = func(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, opts...)
}

type globals struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	g := &globals{v: viper.New()}

	root := &cobra.Command{
		Use:           "sepctl",
		Short:         "Sealed P-256 keys over a sepd daemon",
		Long:          "sepctl talks to sepd. Private keys never leave the daemon's secure hardware module; sepctl only ever holds sealed keys.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("addr", "localhost:50051", "sepd address")
	pf.String("token", "", "bearer token")
	pf.Bool("tls", false, "use TLS with the system roots")
	pf.String("tls-ca", "", "use TLS with this CA certificate")
	pf.Duration("timeout", 10*time.Second, "per-command timeout")

	// Every flag can also come from SEPCTL_<FLAG>, e.g. SEPCTL_TLS_CA.
	g.v.SetEnvPrefix("sepctl")
	g.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	g.v.AutomaticEnv()
	_ = g.v.BindPFlags(pf)

	root.AddCommand(
		newKeygenCmd(g),
		newPubkeyCmd(g),
		newECDHCmd(g),
		newSignCmd(g),
		newVerifyCmd(),
		newAuditCmd(g),
	)
	return root
}

// connect dials sepd and returns a client plus a context bounded by --timeout.
func (g *globals) connect(ctx context.Context) (*client.Client, context.Context, func(), error) {
	creds := insecure.NewCredentials()
	switch {
	case g.v.GetString("tls-ca") != "":
		c, err := credentials.NewClientTLSFromFile(g.v.GetString("tls-ca"), "")
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "load CA")
		}
		creds = c
	case g.v.GetBool("tls"):
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	conn, err := dial(g.v.GetString("addr"), grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "dial sepd")
	}

	cancel := func() {}
	if d := g.v.GetDuration("timeout"); d > 0 {
		ctx, cancel = context.WithTimeout(ctx, d)
	}
	closer := func() {
		cancel()
		_ = conn.Close()
	}
	return client.New(conn, g.v.GetString("token")), ctx, closer, nil
}
