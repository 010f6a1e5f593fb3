package main

import (
	"context"
	"log"
	"os"

	"github.com/trezcool/licita/core"
	"github.com/trezcool/licita/core/access"
	logsvc "github.com/trezcool/licita/services/logger"
	"github.com/trezcool/licita/storage/database"
	pgrepos "github.com/trezcool/licita/storage/database/postgres"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)

	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout*6)
	defer cancel()

	// set up DB
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		logger.Fatal("setting up database", err)
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		logger.Fatal("opening database", err)
	}

	// start CLI
	cli := commandLine{
		conf: conf,
		db:   db,
		gate: access.NewGate(pgrepos.NewRoleRepository(db)),
		out:  os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error("command failed", err)
		}
		os.Exit(1)
	}
}
