package main

import (
	"context"
	"flag"
	"log"
	"time"

	"intercity-backend/internal/app"
	"intercity-backend/internal/config"
)

// Разовый запуск истечения бронирований, например из cron. Уведомления
// ставятся в общую очередь и отправляются работающим сервером
func main() {
	cfg := config.Load()
	ttl := flag.Duration("ttl", cfg.Booking.PendingTTL, "срок ожидания ответа водителя")
	timeout := flag.Duration("timeout", 5*time.Minute, "ограничение времени работы")
	flag.Parse()

	opts, closeConnections, err := app.Connect(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer closeConnections()
	if opts.Store == nil {
		log.Fatal("DB_NAME не задан: истечение бронирований требует базу данных")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	application := app.New(cfg, opts)
	n, err := application.Bookings.ExpirePending(ctx, *ttl)
	if err != nil {
		log.Printf("ExpireBookings: обработано %d, ошибка: %v", n, err)
		return
	}
	log.Printf("ExpireBookings: отклонено %d бронирований старше %s", n, *ttl)
}
