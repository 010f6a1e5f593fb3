package main

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	echoapi "github.com/trezcool/licita/apps/api/echo"
	"github.com/trezcool/licita/core"
)

var isTerminalFunc = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) } // mockable

// token prints a signed API token. Only the raw token is printed when the output is piped.
func (cli *commandLine) token(userID, email string) error {
	claims := echoapi.GetClaims(core.Principal{UserID: core.CleanString(userID), Email: core.CleanString(email, true /* lower */)}, cli.conf)
	token, err := echoapi.GenerateToken(claims, cli.conf.SecretKey)
	if err != nil {
		return err
	}

	if !isTerminalFunc() {
		fmt.Fprintln(cli.out, token)
		return nil
	}
	fmt.Fprintf(cli.out, "Token for %s (expires %s):\n%s\n", claims.Subject, time.Unix(claims.ExpiresAt, 0).UTC().Format(time.RFC3339), token)
	return nil
}
