package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ayo6706/referral-commerce/internal/db"
	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/notify"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"github.com/ayo6706/referral-commerce/internal/service"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// migrate applies the embedded schema and can create the root admin of an empty graph.
//
//	go run ./cmd/migrate
//	go run ./cmd/migrate -admin-username root -admin-email root@example.com
func main() {
	adminUsername := flag.String("admin-username", "", "create and activate a root admin with this username")
	adminEmail := flag.String("admin-email", "", "email of the root admin")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(*adminUsername, *adminEmail); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(adminUsername, adminEmail string) error {
	_ = godotenv.Load()
	v := viper.New()
	v.AutomaticEnv()
	dbURL := strings.TrimSpace(v.GetString("DATABASE_URL"))
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if err := db.Migrate(dbURL); err != nil {
		return err
	}
	zap.L().Info("migrations applied")

	if adminUsername == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := db.Connect(ctx, dbURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := repository.NewStore(pool, 10*time.Second)
	ledger := service.NewLedger(store, notify.NewLogNotifier())
	members := service.NewMemberService(store, service.NewReferralGraph(store), ledger)

	admin, err := members.Register(ctx, service.RegisterMemberRequest{
		Username: adminUsername,
		Email:    adminEmail,
		Role:     domain.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("register root admin: %w", err)
	}
	if _, err := members.Approve(ctx, admin.ID, nil); err != nil {
		return fmt.Errorf("approve root admin: %w", err)
	}
	zap.L().Info("root admin created", zap.String("member_id", admin.ID.String()))
	return nil
}
