package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nzlov/carewire/internal/logging"

	_ "net/http/pprof"
)

func main() {
	boot, _ := zap.NewDevelopment()
	viper.SetConfigType("yaml")
	viper.SetConfigName("config")
	viper.AddConfigPath("./")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetDefault("host", ":8000")
	viper.SetDefault("log.level", "info")
	err := viper.ReadInConfig()
	if err != nil {
		boot.Sugar().Fatal("init config error:", err)
	}

	err = viper.Unmarshal(&DefConfig)
	if err != nil {
		boot.Sugar().Fatal("init config unmarshal error:", err)
	}

	_, restore, err := logging.Install(DefConfig.Log.Level, DefConfig.Log.Development)
	if err != nil {
		boot.Sugar().Fatal("init logger error:", err)
	}
	defer restore()
	log := zap.S()

	if DefConfig.PprofHost != "" {
		go func() {
			log.Info("pprof:", DefConfig.PprofHost)
			if err := http.ListenAndServe(DefConfig.PprofHost, nil); err != nil {
				log.Warn("pprof: ", err)
			}
		}()
	}

	node, err := newNode(DefConfig)
	if err != nil {
		log.Fatal("init node error:", err)
	}
	defer node.Close()

	srv := &http.Server{
		Addr:              DefConfig.Host,
		Handler:           node.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	log.Info("Start:", DefConfig.Host)
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("ListenAndServe: ", err)
	}
	log.Info("close")
}
