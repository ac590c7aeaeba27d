package app

import (
	"fmt"
	"log"
	"time"

	"intercity-backend/internal/config"
	"intercity-backend/internal/db"
	"intercity-backend/internal/events"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/services/notification"
)

// Connect подключает Postgres, Redis и Kafka по конфигурации. Без DB_NAME
// используется хранилище в памяти, без Redis - лимиты в памяти процесса,
// без KAFKA_BROKERS события не публикуются. Возвращаемая функция закрывает соединения
func Connect(cfg config.Config) (Options, func(), error) {
	var opts Options
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.DB.Name != "" {
		gdb, err := db.ConnectWithRetry(cfg.DB, 5, 5*time.Second)
		if err != nil {
			return opts, closeAll, fmt.Errorf("ошибка подключения к базе данных: %w", err)
		}
		if err := repository.AutoMigrate(gdb); err != nil {
			return opts, closeAll, fmt.Errorf("ошибка миграции базы данных: %w", err)
		}
		if sqlDB, err := gdb.DB(); err == nil {
			closers = append(closers, func() { sqlDB.Close() })
		}
		opts.Store = repository.NewGormStore(gdb)
		log.Println("App: подключение к базе данных установлено")
	}

	redisClient, err := db.NewRedisClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password)
	if err != nil {
		log.Println("Предупреждение: Redis недоступен, лимиты уведомлений считаются в памяти:", err)
	} else {
		log.Println("Успешное подключение к Redis")
		closers = append(closers, func() { redisClient.Close() })
		opts.Limiter = notification.NewRedisRateLimiter(redisClient)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		closers = append(closers, func() {
			if err := publisher.Close(); err != nil {
				log.Printf("App: ошибка при закрытии Kafka: %v", err)
			}
		})
		opts.Publisher = publisher
		log.Printf("App: события публикуются в Kafka, топик %s", cfg.Kafka.Topic)
	}

	return opts, closeAll, nil
}
