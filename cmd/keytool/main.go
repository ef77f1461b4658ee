// Command keytool encrypts an answer-signing key into the JSON file the
// oracle reads from signer.encrypted_key_path.
//
// The key and password are taken from CPMORACLE_SIGNER_PRIVATE_KEY and
// CPMORACLE_SIGNER_KEY_PASSWORD so they never appear in shell history.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/cpmoracle/internal/crypto"
)

func main() {
	out := flag.String("out", "signer.json", "path of the encrypted key file to write")
	force := flag.Bool("force", false, "overwrite an existing file")
	flag.Parse()

	_ = godotenv.Load()

	if err := run(*out, *force); err != nil {
		fmt.Fprintf(os.Stderr, "keytool: %v\n", err)
		os.Exit(1)
	}
}

func run(out string, force bool) error {
	keyHex := strings.TrimPrefix(strings.TrimSpace(os.Getenv("CPMORACLE_SIGNER_PRIVATE_KEY")), "0x")
	password := os.Getenv("CPMORACLE_SIGNER_KEY_PASSWORD")
	if keyHex == "" || password == "" {
		return fmt.Errorf("CPMORACLE_SIGNER_PRIVATE_KEY and CPMORACLE_SIGNER_KEY_PASSWORD must be set")
	}

	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return fmt.Errorf("parse key: %w", err)
	}
	address := ethcrypto.PubkeyToAddress(pk.PublicKey).Hex()

	blob, err := crypto.EncryptKey(keyHex, password, address)
	if err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(out, flags, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", out, err)
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("wrote %s for signer %s\n", out, address)
	return nil
}
