package main

import (
	"context"
	"fmt"
	"micropay/internal/cryptographic/signature"
	"micropay/internal/ledger/memory"
	"micropay/internal/policy"
	"micropay/internal/protocol/payee"
	"micropay/internal/protocol/payer"
	"micropay/internal/service/app"
	"micropay/internal/service/server"
	"micropay/internal/signer"
	"micropay/internal/units"
	"net"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// demoCmd streams payments to a payee running in the same process on the
// simulated ledger, then shuts the payee down so it claims.
func demoCmd(c *cli) *cobra.Command {
	var (
		deposit  string
		step     string
		payments int
		chunk    uint64
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run payer and payee against a simulated ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.demo(cmd, deposit, step, payments, chunk)
		},
	}
	cmd.Flags().StringVar(&deposit, "deposit", "1", "ether locked in the channel")
	cmd.Flags().StringVar(&step, "step", "0.01", "ether paid per delivered chunk")
	cmd.Flags().IntVar(&payments, "payments", 3, "number of payments")
	cmd.Flags().Uint64Var(&chunk, "chunk", 5000, "bytes delivered between payments")
	return cmd
}

func (c *cli) demo(cmd *cobra.Command, deposit, step string, payments int, chunk uint64) error {
	stepAmount, err := decimal.NewFromString(step)
	if err != nil {
		return errors.Wrapf(units.ErrInvalidAmount, "step %q", step)
	}

	payerKey, payerAddr, err := signature.NewSecp256k1Keypair()
	if err != nil {
		return err
	}
	_, payeeAddr, err := signature.NewSecp256k1Keypair()
	if err != nil {
		return err
	}
	chain := memory.New(common.HexToAddress("0x0000000000000000000000000000000000c0ffee"))

	opts := payee.DefaultOptions()
	opts.Notifier = payee.NewNotifier(c.cfg.Payee.EventBuffer)
	registry := payee.NewRegistry(payeeAddr, chain.As(payeeAddr), opts)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	srv := server.NewHttpServer(l.Addr().String(), registry, nil)

	serveCtx, stopServing := context.WithCancel(cmd.Context())
	type outcome struct {
		receipts int
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		receipts, err := srv.Serve(serveCtx, l)
		done <- outcome{receipts: len(receipts), err: err}
	}()

	transport, err := app.NewHttpTransport("http://"+l.Addr().String(), nil)
	if err != nil {
		stopServing()
		return err
	}
	meter := policy.NewByteMeter(chunk)
	session := payer.NewSession(payerAddr, transport, chain.As(payerAddr), signer.NewKeyring(payerKey), meter)

	out := cmd.OutOrStdout()
	payErr := func() error {
		rcpt, err := session.OpenChannel(cmd.Context(), deposit, c.cfg.Payer.SettlingPeriod)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "opened %s with %s ETH (%s)\n", session.Channel().ID.Hex(), deposit, rcpt.TxHash.Hex())

		total := decimal.Zero
		for i := 0; i < payments; i++ {
			meter.Delivered(chunk)
			total = total.Add(stepAmount)
			if err := session.SendPayment(cmd.Context(), total.String()); err != nil {
				return err
			}
			fmt.Fprintf(out, "paid %s ETH in total\n", total)
		}
		return nil
	}()

	stopServing()
	res := <-done
	if payErr != nil {
		return payErr
	}
	if res.err != nil {
		return res.err
	}

	received, err := units.FromWei(chain.Balance(payeeAddr), units.Ether)
	if err != nil {
		return err
	}
	refunded, err := units.FromWei(chain.Balance(payerAddr), units.Ether)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "payee claimed %d channel(s): received %s ETH, payer refunded %s ETH\n", res.receipts, received, refunded)
	return nil
}
