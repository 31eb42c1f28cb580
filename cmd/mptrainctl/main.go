package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/mptrain/cmd/mptrainctl/cmd"
	"github.com/armadaproject/mptrain/internal/common"
	"github.com/armadaproject/mptrain/internal/common/mperrors"
)

func main() {
	common.ConfigureCommandLineLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(mperrors.ExitCodeFromError(err))
	}
}
