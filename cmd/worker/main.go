package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/suPer8Hu/repochat/internal/chat"
	"github.com/suPer8Hu/repochat/internal/config"
	"github.com/suPer8Hu/repochat/internal/db"
	"github.com/suPer8Hu/repochat/internal/logging"
	"github.com/suPer8Hu/repochat/internal/store/rabbitmq"
	"github.com/suPer8Hu/repochat/internal/store/redisstore"
)

func envInt(key string, def, lo, hi int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo {
		return def
	}
	if n > hi {
		return hi
	}
	return n
}

func workerConcurrency() int { return envInt("WORKER_CONCURRENCY", 2, 1, 50) }

func maxAttempts() int { return envInt("WORKER_MAX_ATTEMPTS", 5, 1, 100) }

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if cfg.RabbitURL == "" {
		log.Fatal("RABBIT_URL is required for the worker")
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}
	repo := chat.NewRepo(gdb)

	var cache *redisstore.Store
	if cfg.RedisAddr != "" {
		cache = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer cache.Close()
	}

	// retries go out through the publisher's own connection
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal("rabbit publisher", zap.Error(err))
	}
	defer pub.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal("queue declare", zap.Error(err))
	}

	//  strict concurrency control
	concurrency := workerConcurrency()
	attempts := maxAttempts()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started",
		zap.String("queue", cfg.RabbitQueue),
		zap.Int("concurrency", concurrency),
		zap.Int("max_attempts", attempts),
	)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With(zap.Int("worker", workerID))
			for d := range jobs {
				turn, err := rabbitmq.DecodeTurn(d.Body)
				if err != nil {
					wlog.Warn("bad message", zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				err = handleTurn(ctx, repo, cache, turn)
				tlog := wlog.With(zap.String("turn_id", turn.TurnID), zap.Duration("cost", time.Since(start)))
				switch {
				case err == nil:
					if err := d.Ack(false); err != nil {
						tlog.Warn("ack failed", zap.Error(err))
					}
				case errors.Is(err, chat.ErrSessionNotFound), rabbitmq.Attempt(d)+1 >= attempts:
					// dead-letter
					tlog.Error("turn dropped to dlq", zap.Int("attempt", rabbitmq.Attempt(d)), zap.Error(err))
					_ = d.Nack(false, false)
				default:
					delay := time.Duration(rabbitmq.Attempt(d)+1) * 5 * time.Second
					if rerr := pub.Retry(ctx, d, delay); rerr != nil {
						tlog.Error("retry publish failed", zap.Error(rerr))
						_ = d.Nack(false, true)
						continue
					}
					tlog.Warn("turn persist failed, retrying", zap.Duration("delay", delay), zap.Error(err))
					_ = d.Ack(false)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

func handleTurn(ctx context.Context, repo *chat.Repo, cache *redisstore.Store, t chat.Turn) error {
	if err := repo.AppendTurn(ctx, t); err != nil {
		return err
	}
	if t.ActiveRepo != "" {
		// cache is advisory; the store already has the active repo
		_ = cache.SetActiveRepo(ctx, t.SessionID, t.ActiveRepo)
	}
	return nil
}
