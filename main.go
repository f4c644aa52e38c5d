package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"

	"LMS-backend/internal/library/books"
	"LMS-backend/internal/library/loans"
	"LMS-backend/internal/library/users"
	"LMS-backend/internal/platform/auth"
	"LMS-backend/internal/platform/db"
)

func main() {
	// 設定読み込み
	cfg, err := db.LoadConfig("config/config.yaml")
	if err != nil {
		panic(err)
	}

	mode := cfg.Mode
	log.Printf("[INFO] mode:%s\n", mode)

	if cfg.Mode != "dev" && cfg.Mode != "release" {
		fmt.Println("Usage: go run main.go [dev|release]")
		return
	}

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	log.Printf("[INFO] connected to DB: %s", cfg.DB.DBName)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if mode == "dev" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Location"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	secret := []byte(cfg.JWTSecret)

	// /api/v1 読み取りは公開、書き込みはJWT必須
	api := r.Group("/api/v1")
	protected := api.Group("", auth.RequireAuth(secret))

	auth.RegisterRoutes(api, auth.NewService(conn, secret))
	books.RegisterRoutes(api, protected, books.NewService(conn))
	users.RegisterRoutes(api, protected, users.NewService(conn))
	loans.RegisterRoutes(api, protected, loans.NewService(conn))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	go func() {
		if cfg.Certificate.Cert == "" || cfg.Certificate.Key == "" {
			log.Printf("[INFO] listening on http://0.0.0.0%s", cfg.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal(err)
			}
			return
		}

		var certFile, keyFile string
		if mode == "dev" {
			certFile = fmt.Sprintf("config/tls/dev/%s", cfg.Certificate.Cert)
			keyFile = fmt.Sprintf("config/tls/dev/%s", cfg.Certificate.Key)
		} else {
			certFile = fmt.Sprintf("config/tls/release/%s", cfg.Certificate.Cert)
			keyFile = fmt.Sprintf("config/tls/release/%s", cfg.Certificate.Key)
		}

		log.Printf("[INFO] listening on https://0.0.0.0%s", cfg.Addr)
		if err := srv.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	log.Println("[INFO] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
}
