package main

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/licita/apps/api/echo"
	"github.com/trezcool/licita/core/access"
	"github.com/trezcool/licita/tests"
)

func setup(t *testing.T) (*commandLine, *bytes.Buffer, access.Repository) {
	store := testutil.PrepareDB()
	var out bytes.Buffer

	// start CLI
	return &commandLine{
		conf: testutil.NewConfig(),
		gate: access.NewGate(store.Roles),
		out:  &out,
	}, &out, store.Roles
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantOut    string
}

func (tt cliTest) check(t *testing.T, cli *commandLine, out *bytes.Buffer) {
	out.Reset()
	err := cli.run(append([]string{"admin"}, tt.args...))
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, err)
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
	if tt.wantOut != "" {
		assert.Equal(t, tt.wantOut, out.String())
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, out, _ := setup(t)

	var ran []string
	runMigrationsFunc = func(_ context.Context, _ *sqlx.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		ran = append(ran, strings.TrimSpace(command+" "+strings.Join(args, " ")))
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "1"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "status", args: []string{"migrate", "status"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli, out)
		})
	}
	assert.Equal(t, []string{"up", "up-to 1", "down", "status"}, ran)
}

func Test_commandLine_roles(t *testing.T) {
	cli, out, repo := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "addrole: no args", args: []string{"addrole"}, wantErr: errHelp},
		{name: "addrole: no role", args: []string{"addrole", "-user", "u-1"}, wantErr: errHelp},
		{name: "addrole: unknown role", args: []string{"addrole", "-user", "u-1", "-role", "director"}, wantErr: access.ErrUnknownRole},
		{
			name: "addrole: encargado without school", args: []string{"addrole", "-user", "u-1", "-role", access.RoleEncargado},
			wantErr: access.ErrSchoolIsRequired,
		},
		{
			name: "addrole: encargado", args: []string{"addrole", "-user", "u-1", "-role", access.RoleEncargado, "-school", "12"},
			wantOut: "role encargado_licitacion granted to u-1 (school 12)\n",
		},
		{
			name: "addrole: admin ignores school", args: []string{"addrole", "-user", "u-2", "-role", "ADMIN", "-school", "3"},
			wantOut: "role admin granted to u-2\n",
		},
		{name: "roles: no user", args: []string{"roles"}, wantErr: errHelp},
		{name: "roles: none", args: []string{"roles", "-user", "u-3"}, wantOut: "no roles\n"},
		{name: "roles", args: []string{"roles", "-user", "u-1"}, wantOut: "encargado_licitacion (school 12)\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli, out)
		})
	}

	roles, err := repo.QueryRoles(context.Background(), "u-2")
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Nil(t, roles[0].SchoolID)
	assert.True(t, roles[0].IsActive)
}

func Test_commandLine_token(t *testing.T) {
	cli, out, _ := setup(t)

	parse := func(t *testing.T, raw string) *echoapi.Claims {
		claims := new(echoapi.Claims)
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(cli.conf.SecretKey), nil
		})
		require.NoError(t, err)
		return claims
	}

	cliTest{name: "no user", args: []string{"token"}, wantErr: errHelp}.check(t, cli, out)

	t.Run("piped", func(t *testing.T) {
		isTerminalFunc = func() bool { return false }
		cliTest{args: []string{"token", "-user", "u-1", "-email", "Encargado@Colegio.cl"}}.check(t, cli, out)

		claims := parse(t, strings.TrimSpace(out.String()))
		assert.Equal(t, "u-1", claims.Subject)
		assert.Equal(t, "encargado@colegio.cl", claims.Email)
		assert.Equal(t, cli.conf.AppName, claims.Issuer)
	})

	t.Run("terminal", func(t *testing.T) {
		isTerminalFunc = func() bool { return true }
		cliTest{args: []string{"token", "-user", "u-1"}}.check(t, cli, out)

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, 2)
		assert.True(t, strings.HasPrefix(lines[0], "Token for u-1 (expires "))
		assert.Equal(t, "u-1", parse(t, lines[1]).Subject)
	})
}
