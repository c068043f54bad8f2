package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"dataspace/config"
	"dataspace/crypto"
	"dataspace/rpc"
)

const (
	accountCommand = "account"
	tokenCommand   = "token"
	defaultPassEnv = "DATASPACE_KEY_PASS"
	defaultConfig  = "./config.toml"
	defaultKeyDir  = "./keys"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case accountCommand:
		err = runAccount(os.Args[2:])
	case tokenCommand:
		err = runToken(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAccount(args []string) error {
	if len(args) == 0 || args[0] != "new" {
		return fmt.Errorf("usage: dataspacectl account new [--dir DIR] [--pass-env VAR]")
	}
	fs := flag.NewFlagSet("account new", flag.ExitOnError)
	dir := fs.String("dir", defaultKeyDir, "Directory that receives the encrypted key file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the key passphrase; prompts when unset")
	fs.Parse(args[1:])

	passphrase, err := newPassphraseSource(*passEnv).Get(true)
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	path, err := crypto.WriteAccountKey(*dir, key, passphrase)
	if err != nil {
		return err
	}
	fmt.Printf("address: %s\nkeyfile: %s\n", key.PubKey().Address().String(), path)
	return nil
}

// runToken mints a bearer token for an account, named either directly or by
// its key file. The signing secret comes from the daemon config.
func runToken(args []string) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "Path to the daemon config file")
	address := fs.String("address", "", "Account address (bech32 or 0x hex)")
	keyFile := fs.String("keyfile", "", "Encrypted key file; proves control of the account")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the key passphrase; prompts when unset")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	fs.Parse(args)

	account, err := resolveAccount(*address, *keyFile, newPassphraseSource(*passEnv))
	if err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	token, err := rpc.IssueToken(rpc.AuthConfig{
		HMACSecret: cfg.Auth.Secret(),
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
	}, account, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func resolveAccount(address, keyFile string, pass *passphraseSource) ([20]byte, error) {
	if strings.TrimSpace(keyFile) != "" {
		passphrase, err := pass.Get(false)
		if err != nil {
			return [20]byte{}, err
		}
		_, account, err := crypto.OpenAccountKey(keyFile, passphrase)
		return account, err
	}
	if strings.TrimSpace(address) == "" {
		return [20]byte{}, fmt.Errorf("either --address or --keyfile is required")
	}
	return crypto.ParseAccount(address)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: dataspacectl <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  %s new   Generate an account and write its encrypted key file\n", accountCommand)
	fmt.Fprintf(os.Stderr, "  %s       Issue a bearer token for an account\n", tokenCommand)
}
