package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/glinharesb/sep-go/internal/audit"
	"github.com/glinharesb/sep-go/internal/crypto"
)

func newKeygenCmd(g *globals) *cobra.Command {
	var (
		kind  string
		level int
		out   string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a sealed key",
		Long: `Create a sealed P-256 key inside the daemon's module.

Levels: 1 unlock once, 2 unlocked now, 3 interactive auth,
4 any biometry, 5 currently enrolled biometry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkKind(kind); err != nil {
				return err
			}
			lvl, err := parseLevel(level)
			if err != nil {
				return err
			}
			c, ctx, done, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			create := c.CreateSealedSigningKey
			if kind == kindAgreement {
				create = c.CreateSealedAgreementKey
			}
			sealed, err := create(ctx, lvl)
			if err != nil {
				return err
			}
			return writeSealed(cmd.OutOrStdout(), out, sealed)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", kindSigning, "agreement or signing")
	cmd.Flags().IntVar(&level, "level", 1, "access policy level (1..5)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the sealed key to this file (default: base64 on stdout)")
	return cmd
}

func newPubkeyCmd(g *globals) *cobra.Command {
	var kind, key string
	cmd := &cobra.Command{
		Use:   "pubkey",
		Short: "Print the uncompressed public key of a sealed key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkKind(kind); err != nil {
				return err
			}
			sealed, err := readSealed(key)
			if err != nil {
				return err
			}
			c, ctx, done, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			get := c.SigningPublicKey
			if kind == kindAgreement {
				get = c.AgreementPublicKey
			}
			pub, err := get(ctx, sealed)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(pub))
			return err
		},
	}
	cmd.Flags().StringVar(&kind, "kind", kindSigning, "agreement or signing")
	cmd.Flags().StringVarP(&key, "key", "k", "", "sealed key file")
	return cmd
}

func newECDHCmd(g *globals) *cobra.Command {
	var key, peer, info string
	var length int
	cmd := &cobra.Command{
		Use:   "ecdh",
		Short: "Compute the shared secret with a peer public key",
		Long: `Compute the raw ECDH shared secret (the 32-byte X coordinate).

With --info the raw secret is expanded with HKDF-SHA256 instead of printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sealed, err := readSealed(key)
			if err != nil {
				return err
			}
			peerKey, err := decodeHex("peer", peer)
			if err != nil {
				return err
			}
			c, ctx, done, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			secret, err := c.SharedSecret(ctx, sealed, peerKey)
			if err != nil {
				return err
			}
			if info != "" {
				derived, err := crypto.DeriveKey(secret, []byte(info), length)
				crypto.Zero(secret)
				if err != nil {
					return err
				}
				secret = derived
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(secret))
			return err
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "sealed agreement key file")
	cmd.Flags().StringVar(&peer, "peer", "", "peer public key, hex of 0x04||X||Y")
	cmd.Flags().StringVar(&info, "info", "", "derive a key with HKDF-SHA256 using this context")
	cmd.Flags().IntVar(&length, "length", 32, "derived key length in bytes")
	return cmd
}

func newSignCmd(g *globals) *cobra.Command {
	var key, dig, in, hash string
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a digest and print r||s",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sealed, err := readSealed(key)
			if err != nil {
				return err
			}
			d, err := loadDigest(dig, in, hash)
			if err != nil {
				return err
			}
			c, ctx, done, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			sig, err := c.Sign(ctx, sealed, d)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(sig))
			return err
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "sealed signing key file")
	cmd.Flags().StringVar(&dig, "digest", "", "precomputed digest, hex (20, 28, 32, 48 or 64 bytes)")
	cmd.Flags().StringVar(&in, "in", "", "hash this file instead of passing --digest")
	cmd.Flags().StringVar(&hash, "hash", "sha256", "hash for --in")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var pub, dig, in, hash, sig string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an r||s signature locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rawPub, err := decodeHex("pub", pub)
			if err != nil {
				return err
			}
			key, err := crypto.ParseUncompressed(rawPub)
			if err != nil {
				return errors.Wrap(err, "--pub")
			}
			d, err := loadDigest(dig, in, hash)
			if err != nil {
				return err
			}
			rawSig, err := decodeHex("sig", sig)
			if err != nil {
				return err
			}
			if !crypto.VerifyRaw(key, d, rawSig) {
				return errors.New("signature is NOT valid")
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "signature is valid")
			return err
		},
	}
	cmd.Flags().StringVar(&pub, "pub", "", "public key, hex of 0x04||X||Y")
	cmd.Flags().StringVar(&dig, "digest", "", "digest, hex")
	cmd.Flags().StringVar(&in, "in", "", "hash this file instead of passing --digest")
	cmd.Flags().StringVar(&hash, "hash", "sha256", "hash for --in")
	cmd.Flags().StringVar(&sig, "sig", "", "signature, hex of r||s")
	return cmd
}

func newAuditCmd(g *globals) *cobra.Command {
	var f audit.Filter
	var watch bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query or follow the daemon's audit trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			if watch {
				// Following ignores --timeout.
				g.v.Set("timeout", 0)
			}
			c, ctx, done, err := g.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			if watch {
				return c.WatchAudit(ctx, func(e audit.Entry) error { return enc.Encode(e) })
			}
			entries, err := c.QueryAudit(ctx, f)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.KeyID, "key-id", "", "sealed key fingerprint")
	cmd.Flags().StringVar(&f.Operation, "op", "", "operation name, e.g. sign")
	cmd.Flags().StringVar(&f.Status, "status", "", "OK or ERROR")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum entries, newest first")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "stream new entries until interrupted")
	return cmd
}
