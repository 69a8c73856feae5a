package main

import (
	"context"
	"fmt"
	"micropay/internal/config"
	"micropay/internal/model"
	"micropay/internal/policy"
	"micropay/internal/protocol/payer"
	"micropay/internal/service/app"
	"micropay/internal/service/chain"
	redisSvc "micropay/internal/service/redis"
	"micropay/internal/signer"
	"micropay/internal/utils/log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type cli struct {
	configFile string
	channel    string
	receiver   string

	cfg       *config.Config
	session   *payer.Session
	transport *app.HttpTransport
	channels  *app.ChannelStore
	closers   []func()
}

func main() {
	c := &cli{}

	root := &cobra.Command{
		Use:           "payer",
		Short:         "Open a payment channel and stream micropayments over it",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return log.Init(cfg.Log.Level, cfg.Log.Development)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			c.close()
			log.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "config file")
	root.PersistentFlags().StringVar(&c.channel, "channel", "", "channel id to resume")
	root.PersistentFlags().StringVar(&c.receiver, "receiver", "", "receiver address of the resumed channel")

	root.AddCommand(
		&cobra.Command{
			Use:   "open <initial-ether>",
			Short: "Say hello to the payee and open a channel",
			Args:  cobra.ExactArgs(1),
			RunE:  c.open,
		},
		&cobra.Command{
			Use:   "pay <cumulative-ether>",
			Short: "Send a payment for the cumulative amount owed",
			Args:  cobra.ExactArgs(1),
			RunE:  c.pay,
		},
		&cobra.Command{
			Use:   "deposit <ether>",
			Short: "Add funds to the channel",
			Args:  cobra.ExactArgs(1),
			RunE:  c.deposit,
		},
		&cobra.Command{
			Use:   "start-settling",
			Short: "Start the settling period of the channel",
			Args:  cobra.NoArgs,
			RunE:  c.startSettling,
		},
		&cobra.Command{
			Use:   "settle",
			Short: "Take back unclaimed funds after the settling period",
			Args:  cobra.NoArgs,
			RunE:  c.settle,
		},
		&cobra.Command{
			Use:   "ui",
			Short: "Interactive payment console",
			Args:  cobra.NoArgs,
			RunE:  c.ui,
		},
		demoCmd(c),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error("payer failed", zap.Error(err))
		os.Exit(1)
	}
}

func (c *cli) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// setup builds the payer session from the configuration. A channel saved
// earlier, or given with --channel and --receiver, is attached.
func (c *cli) setup(ctx context.Context, attach bool) error {
	ring, err := signer.LoadKeyring(c.cfg.Ledger.KeyFiles...)
	if err != nil {
		return err
	}
	account, err := chain.Account(c.cfg.Payer.Address, ring)
	if err != nil {
		return errors.Wrap(err, "payer account")
	}

	channels, closeChain, err := chain.Open(ctx, c.cfg.Ledger, ring, account, nil)
	if err != nil {
		return err
	}
	c.closers = append(c.closers, closeChain)

	c.transport, err = app.NewHttpTransport(c.cfg.Payer.ReceiverURL, nil)
	if err != nil {
		return err
	}

	if c.cfg.Redis.Addr != "" {
		redisService := redisSvc.NewRedis(redis.NewClient(&redis.Options{
			Addr:     c.cfg.Redis.Addr,
			Password: c.cfg.Redis.Password,
			DB:       c.cfg.Redis.DB,
		}))
		c.closers = append(c.closers, func() { redisService.Close() })
		c.channels = app.NewChannelStore(redisService)
	}

	c.session = payer.NewSession(account, c.transport, channels, ring, policy.AlwaysSend{})
	if !attach {
		return nil
	}
	return c.attach(ctx)
}

func (c *cli) attach(ctx context.Context) error {
	if c.channel != "" {
		id, err := model.ParseChannelID(c.channel)
		if err != nil {
			return err
		}
		if !common.IsHexAddress(c.receiver) {
			return errors.Errorf("--receiver %q is not an address", c.receiver)
		}
		return c.session.Attach(common.HexToAddress(c.receiver), id, c.cfg.Payer.SettlingPeriod)
	}

	if c.channels != nil {
		ch, err := c.channels.GetChannel(ctx, c.session.Sender(), c.transport.Endpoint())
		if err != nil {
			return errors.Wrap(err, "load channel")
		}
		if ch != nil {
			return c.session.Attach(ch.Receiver, ch.ID, ch.SettlingPeriod)
		}
	}
	return errors.Wrap(payer.ErrNotOpen, "open a channel first or pass --channel and --receiver")
}

func printReceipt(cmd *cobra.Command, rcpt *model.Receipt) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s in tx %s (block %d)\n", rcpt.Event, rcpt.TxHash.Hex(), rcpt.BlockNumber)
}

func (c *cli) open(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := c.setup(ctx, false); err != nil {
		return err
	}

	rcpt, err := c.session.OpenChannel(ctx, args[0], c.cfg.Payer.SettlingPeriod)
	if err != nil {
		return err
	}
	ch := c.session.Channel()
	if c.channels != nil {
		if err := c.channels.SaveChannel(ctx, c.session.Sender(), c.transport.Endpoint(), ch); err != nil {
			log.Warn("save channel failed", zap.Error(err))
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "channel %s to %s\n", ch.ID.Hex(), ch.Receiver.Hex())
	printReceipt(cmd, rcpt)
	return nil
}

func (c *cli) pay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := c.setup(ctx, true); err != nil {
		return err
	}
	if err := c.session.SendPayment(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "paid %s ETH in total\n", args[0])
	return nil
}

func (c *cli) deposit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := c.setup(ctx, true); err != nil {
		return err
	}
	rcpt, err := c.session.Deposit(ctx, args[0])
	if err != nil {
		return err
	}
	printReceipt(cmd, rcpt)
	return nil
}

func (c *cli) startSettling(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := c.setup(ctx, true); err != nil {
		return err
	}
	rcpt, err := c.session.StartSettling(ctx)
	if err != nil {
		return err
	}
	printReceipt(cmd, rcpt)
	return nil
}

func (c *cli) settle(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := c.setup(ctx, true); err != nil {
		return err
	}
	rcpt, err := c.session.Settle(ctx)
	if err != nil {
		return err
	}
	if c.channels != nil {
		if err := c.channels.DeleteChannel(ctx, c.session.Sender(), c.transport.Endpoint()); err != nil {
			log.Warn("forget channel failed", zap.Error(err))
		}
	}
	printReceipt(cmd, rcpt)
	return nil
}

func (c *cli) ui(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := c.setup(ctx, true); err != nil {
		return err
	}
	return app.NewApp(c.session, c.transport).Run(ctx)
}
