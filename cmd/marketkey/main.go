// Command marketkey seals an operator private key into an encrypted keystore
// file that marketd reads through chain.encrypted_key_path.
//
// The key and password are read from MARKET_CHAIN_PRIVATE_KEY and
// MARKET_CHAIN_KEY_PASSWORD so they never appear in shell history.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
)

func main() {
	out := flag.String("out", "operator.keystore.json", "keystore file to write")
	flag.Parse()

	if err := run(*out); err != nil {
		fmt.Fprintf(os.Stderr, "marketkey: %v\n", err)
		os.Exit(1)
	}
}

func run(out string) error {
	key := os.Getenv("MARKET_CHAIN_PRIVATE_KEY")
	password := os.Getenv("MARKET_CHAIN_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("MARKET_CHAIN_PRIVATE_KEY and MARKET_CHAIN_KEY_PASSWORD must be set")
	}

	blob, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if _, err := crypto.DecryptKey(blob, password); err != nil {
		return fmt.Errorf("verify keystore: %w", err)
	}
	if err := os.WriteFile(out, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Printf("wrote %s\n", out)
	return nil
}
