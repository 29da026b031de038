package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/quillhost/quill/db"
	"github.com/quillhost/quill/federation"
	"github.com/quillhost/quill/util"
	"github.com/quillhost/quill/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	log.Println("Running database migrations...")
	database, err := db.New(conf.Conf.DbPath)
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	if err := database.RunMigrations(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Database migrations complete")

	service := federation.NewService(database, conf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if conf.Conf.WithFed {
		service.StartDeliveryWorker(ctx)
	}

	handler := web.NewHandler(service, conf)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := handler.Run(); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping federation server")
}
