package main

import (
	"log"

	"github.com/glebarez/sqlite"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"interest-bank-bot/bot"
	"interest-bank-bot/config"
	"interest-bank-bot/ledger"
	"interest-bank-bot/model"
	"interest-bank-bot/store"
	"interest-bank-bot/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		sugar.Fatalw("open database", "path", cfg.DBPath, "err", err)
	}

	// Auto migrate
	if err := db.AutoMigrate(&model.Account{}); err != nil {
		sugar.Fatalw("migrate database", "err", err)
	}

	key, err := cfg.CipherKey()
	if err != nil {
		sugar.Fatalw("load cipher key", "err", err)
	}
	cipher, err := store.NewCipher(key)
	if err != nil {
		sugar.Fatalw("init cipher", "err", err)
	}

	st := store.New(db, cipher)
	engine := ledger.Engine{Rate: cfg.InterestRate}
	accrual := ledger.NewAccrual(engine, cfg.ClickCooldown, cfg.ConfirmCooldown, cfg.TargetClicks)
	locks := ledger.NewUserLocks()

	b, err := bot.NewBot(cfg.BotToken, cfg.AdminUserID, st, engine, accrual, locks, sugar)
	if err != nil {
		sugar.Fatalw("init bot", "err", err)
	}

	wf := workflow.New(st, engine, locks, b, sugar)
	b.SetWorkflow(wf)

	// Scheduler: sweep stale pending transactions every minute.
	c := cron.New()
	c.AddFunc("* * * * *", func() { wf.ExpireStale(cfg.PendingTTL) })
	c.Start()

	sugar.Infow("bot started", "admin", cfg.AdminUserID)
	b.Start()
}
