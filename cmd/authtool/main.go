// Command authtool prints config entries for the REST auth section: an
// operator with an argon2id password hash, or a new machine token.
//
//	authtool password -user tech -role operator < password.txt
//	authtool token -name scada -perms observe,operate
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/auth"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/config"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type operatorEntry struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

type tokenEntry struct {
	Name        string   `yaml:"name"`
	Hash        string   `yaml:"hash"`
	Permissions []string `yaml:"permissions"`
}

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: authtool password|token [flags]")
	}

	switch os.Args[1] {
	case "password":
		password(os.Args[2:])
	case "token":
		token(os.Args[2:])
	default:
		log.Fatalf("unknown subcommand %q", os.Args[1])
	}
}

func password(args []string) {
	fs := flag.NewFlagSet("password", flag.ExitOnError)
	user := fs.String("user", "", "operator name")
	role := fs.String("role", auth.RoleOperator, "observer, operator or admin")
	memory := fs.Uint("memory", 64*1024, "argon2 memory in KiB")
	passes := fs.Uint("passes", 3, "argon2 iterations")
	fs.Parse(args)

	if *user == "" {
		log.Fatal("missing -user")
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		log.Fatalf("Failed to read password from stdin: %v", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		log.Fatal("empty password")
	}

	hash, err := auth.NewPasswordHasherWithCost(uint32(*memory), uint32(*passes)).HashPassword(secret)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	entry := operatorEntry{Username: *user, PasswordHash: hash, Role: *role}
	check(config.AuthConfig{JWTSecret: "check", Operators: []config.OperatorConfig{{
		Username: entry.Username, PasswordHash: entry.PasswordHash, Role: entry.Role,
	}}})
	emit("operators", entry)
}

func token(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	name := fs.String("name", "", "machine name")
	perms := fs.String("perms", "observe,operate", "comma separated permissions")
	fs.Parse(args)

	if *name == "" {
		log.Fatal("missing -name")
	}

	tok, hash, err := auth.GenerateMachineToken()
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}
	entry := tokenEntry{Name: *name, Hash: hash, Permissions: strings.Split(*perms, ",")}
	check(config.AuthConfig{JWTSecret: "check", MachineTokens: []config.MachineTokenConfig{{
		Name: entry.Name, Hash: entry.Hash, Permissions: entry.Permissions,
	}}})

	fmt.Fprintf(os.Stderr, "Token (shown once): %s\n", tok)
	emit("machine_tokens", entry)
}

// check runs the entry through the same validation the server applies.
func check(cfg config.AuthConfig) {
	if _, err := auth.NewService(cfg, zap.NewNop()); err != nil {
		log.Fatalf("Invalid entry: %v", err)
	}
}

func emit(section string, entry any) {
	out, err := yaml.Marshal(map[string]any{"auth": map[string]any{section: []any{entry}}})
	if err != nil {
		log.Fatalf("Failed to encode entry: %v", err)
	}
	os.Stdout.Write(out)
}
