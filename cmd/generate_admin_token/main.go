package main

import (
	"flag"
	"fmt"
	"log"

	"intercity-backend/internal/config"
	"intercity-backend/internal/utils"
)

// Выпускает токен оператора для административных маршрутов /api/admin
func main() {
	adminID := flag.Uint("id", 0, "ID пользователя-оператора")
	flag.Parse()

	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET не задан")
	}

	id := uint(*adminID)
	if id == 0 {
		if len(cfg.AdminUserIDs) == 0 {
			log.Fatal("Укажите -id или ADMIN_USER_IDS")
		}
		id = cfg.AdminUserIDs[0]
	}

	tokenString, err := utils.GenerateAdminJWT(cfg.JWTSecret, id)
	if err != nil {
		log.Fatalf("Ошибка генерации токена оператора: %v", err)
	}

	fmt.Printf("Токен оператора %d: %s\n", id, tokenString)
}
