package main

import (
	"os"

	"app/internal/config"
	"app/internal/domain/model"
	"app/internal/handler"
	"app/internal/infra/db"
	"app/internal/infra/memory"
	infra "app/internal/infra/repository"
	"app/internal/payment"
	repo "app/internal/repository"
	"app/internal/server"
	"app/internal/usecase"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// .envがあれば読み込む（なくてもよい）
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	var (
		cartRepo     repo.CartRepository
		cartItemRepo repo.CartItemRepository
		productRepo  repo.ProductRepository
		tx           repo.TransactionManager
	)

	switch cfg.StorageBackend {
	case config.BackendMemory:
		var store *memory.Store
		if cfg.DataDir != "" {
			store, err = memory.NewFileStore(cfg.DataDir)
			if err != nil {
				log.Fatal().Err(err).Str("data_dir", cfg.DataDir).Msg("file store init failed")
			}
		} else {
			store = memory.NewStore()
		}
		cartMem := memory.NewCartMemoryRepository(store)
		cartRepo = cartMem
		cartItemRepo = cartMem
		productRepo = memory.NewProductMemoryRepository(store)
		tx = memory.NewTxManagerMemory(store)
		log.Info().Str("backend", cfg.StorageBackend).Msg("storage ready")

	default:
		gormDB, err := db.Connect(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect failed")
		}
		if err := gormDB.AutoMigrate(
			&model.Product{},
			&model.Cart{},
			&model.CartItem{},
			&model.Order{},
			&model.OrderItem{},
		); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		cartGorm := infra.NewCartGormRepository(gormDB)
		cartRepo = cartGorm
		cartItemRepo = cartGorm
		productRepo = infra.NewProductGormRepository(gormDB)
		tx = infra.NewTxManagerGorm(gormDB)
		log.Info().Str("backend", cfg.StorageBackend).Msg("storage ready")
	}

	gateway := payment.NewSimulatedGateway(cfg.PaymentLatency)

	productUsecase := usecase.NewProductUsecase(productRepo)
	cartUsecase := usecase.NewCartUsecase(cartRepo, cartItemRepo, productRepo)
	orderUsecase := usecase.NewOrderUsecase(tx, gateway, cfg.PaymentTimeout)

	srv := server.New(
		cfg,
		handler.NewProductHandler(productUsecase),
		handler.NewCartHandler(cartUsecase),
		handler.NewOrderHandler(orderUsecase),
	)

	log.Info().Str("port", cfg.Port).Msg("server start")
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
