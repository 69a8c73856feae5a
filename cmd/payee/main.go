package main

import (
	"context"
	"math/big"
	"micropay/internal/config"
	"micropay/internal/policy"
	"micropay/internal/protocol/payee"
	"micropay/internal/repository/session"
	"micropay/internal/service/chain"
	redisSvc "micropay/internal/service/redis"
	"micropay/internal/service/server"
	"micropay/internal/signer"
	"micropay/internal/utils/log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:           "payee",
		Short:         "Accept streamed micropayments and claim them on shutdown",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if err := log.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.Flags().StringVarP(&configFile, "config", "c", "", "config file")

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Error("payee failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	ring, err := signer.LoadKeyring(cfg.Ledger.KeyFiles...)
	if err != nil {
		return err
	}
	account, err := chain.Account(cfg.Payee.Address, ring)
	if err != nil {
		return errors.Wrap(err, "payee account")
	}

	channels, closeChain, err := chain.Open(ctx, cfg.Ledger, ring, account, nil)
	if err != nil {
		return err
	}
	defer closeChain()

	opts, err := registryOptions(cfg.Payee)
	if err != nil {
		return err
	}

	var proofs *server.ProofStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisService := redisSvc.NewRedis(rdb)
		defer redisService.Close()
		if err := redisService.Ping(ctx); err != nil {
			return errors.Wrap(err, "redis")
		}
		proofs = server.NewProofStore(redisService)
		opts.Proofs = proofs
	}

	if cfg.Mongo.URI != "" {
		mongoDBClient, err := initMongo(cfg.Mongo.URI)
		if err != nil {
			return errors.Wrap(err, "mongo")
		}
		defer mongoDBClient.Disconnect(context.Background())

		sessionRepo := session.NewSessionRepo(mongoDBClient.Database(cfg.Mongo.Database))
		if err := sessionRepo.EnsureIndexes(ctx); err != nil {
			return errors.Wrap(err, "session indexes")
		}
		opts.Sessions = sessionRepo
	}

	registry := payee.NewRegistry(account, channels, opts)
	restored, err := registry.Restore(ctx)
	if err != nil {
		return err
	}
	if restored > 0 {
		log.Info("sessions restored", zap.Int("count", restored))
	}

	srv := server.NewHttpServer(cfg.Payee.Listen, registry, proofs)
	receipts, err := srv.ListenAndServe(ctx)
	log.Info("payee stopped", zap.Int("claimed", len(receipts)))
	return err
}

func registryOptions(cfg config.Payee) (payee.Options, error) {
	opts := payee.DefaultOptions()
	opts.Exclusive = cfg.Exclusive
	opts.Notifier = payee.NewNotifier(cfg.EventBuffer)

	onReject, err := payee.ParseRejectAction(cfg.OnReject)
	if err != nil {
		return opts, err
	}
	opts.OnReject = onReject

	if cfg.MinIncrement != "" {
		floor, ok := new(big.Int).SetString(cfg.MinIncrement, 10)
		if !ok || floor.Sign() < 0 {
			return opts, errors.Errorf("payee.min_increment %q is not a wei amount", cfg.MinIncrement)
		}
		opts.Validator = policy.MinIncrement{Min: floor, Next: policy.LedgerClaimable{}}
	}
	return opts, nil
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
