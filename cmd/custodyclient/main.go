package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/vetkd-custody-backend/api/custodyhandler"
	"github.com/ruteri/vetkd-custody-backend/cryptoutils"
	"github.com/urfave/cli/v2"
)

// secretDomain separates the key wrapping the stored secret from other uses of the vetKey.
const secretDomain = "vetkd-custody/aes-key"

var (
	urlFlag = &cli.StringFlag{
		Name:    "url",
		Value:   "http://127.0.0.1:8080",
		EnvVars: []string{"CUSTODY_URL"},
		Usage:   "custody service base URL",
	}
	keyFileFlag = &cli.StringFlag{
		Name:    "key-file",
		EnvVars: []string{"CUSTODY_KEY_FILE"},
		Usage:   "file with the hex-encoded secp256k1 private key identifying the caller",
	}
	anonymousFlag = &cli.BoolFlag{
		Name:  "anonymous",
		Usage: "send unsigned requests",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Value: 30 * time.Second,
		Usage: "request timeout",
	}
)

func main() {
	app := &cli.App{
		Name:  "custody-client",
		Usage: "Fetch vetKD keys and manage the caller's encrypted secret",
		Flags: []cli.Flag{urlFlag, keyFileFlag, anonymousFlag, timeoutFlag},
		Commands: []*cli.Command{
			{
				Name:   "gen-key",
				Usage:  "Generate a caller key file",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "out", Required: true, Usage: "key file to write"}},
				Action: genKey,
			},
			{
				Name:   "whoami",
				Usage:  "Print the identity the service sees",
				Action: withClient(whoami),
			},
			{
				Name:   "keys",
				Usage:  "Fetch the asymmetric keys with a fresh transport key",
				Action: withClient(keys),
			},
			{
				Name:   "save-secret",
				Usage:  "Store an encrypted secret",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "secret", Required: true, Usage: "hex-encoded encrypted secret"}},
				Action: withClient(saveSecret),
			},
			{
				Name:   "bootstrap",
				Usage:  "Create or recover the caller's AES key through the custody service",
				Action: withClient(bootstrap),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type clientAction func(ctx context.Context, cCtx *cli.Context, client *custodyhandler.Client) error

func withClient(action clientAction) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		var key *ecdsa.PrivateKey
		if !cCtx.Bool(anonymousFlag.Name) {
			keyFile := cCtx.String(keyFileFlag.Name)
			if keyFile == "" {
				return errors.New("--key-file is required unless --anonymous is set")
			}
			var err error
			key, err = crypto.LoadECDSA(keyFile)
			if err != nil {
				return fmt.Errorf("could not load key: %w", err)
			}
		}

		client, err := custodyhandler.NewClient(cCtx.String(urlFlag.Name), key, nil)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(timeoutFlag.Name))
		defer cancel()
		return action(ctx, cCtx, client)
	}
}

func genKey(cCtx *cli.Context) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveECDSA(cCtx.String("out"), key); err != nil {
		return err
	}
	fmt.Println(cryptoutils.IdentityFromPublicKey(&key.PublicKey).String())
	return nil
}

func whoami(ctx context.Context, _ *cli.Context, client *custodyhandler.Client) error {
	identity, err := client.WhoAmI(ctx)
	if err != nil {
		return err
	}
	fmt.Println(identity)
	return nil
}

func keys(ctx context.Context, _ *cli.Context, client *custodyhandler.Client) error {
	tsk, err := cryptoutils.GenerateTransportKey()
	if err != nil {
		return err
	}
	reply, err := client.AsymmetricKeys(ctx, tsk.PublicKey())
	if err != nil {
		return err
	}
	return printJSON(map[string]string{
		"transport_secret_key": hex.EncodeToString(tsk.Bytes()),
		"public_key":           hex.EncodeToString(reply.PublicKey),
		"encrypted_key":        hex.EncodeToString(reply.EncryptedKey),
		"encrypted_secret":     hex.EncodeToString(reply.EncryptedSecret),
	})
}

func saveSecret(ctx context.Context, cCtx *cli.Context, client *custodyhandler.Client) error {
	secret, err := hex.DecodeString(cCtx.String("secret"))
	if err != nil {
		return fmt.Errorf("invalid secret: %w", err)
	}
	return client.SaveEncryptedSecret(ctx, secret)
}

// bootstrap returns the caller's AES key. On first use a random key is
// created, wrapped under a key derived from the vetKey and stored; later
// runs fetch the stored secret and unwrap it with a freshly derived vetKey.
func bootstrap(ctx context.Context, _ *cli.Context, client *custodyhandler.Client) error {
	tsk, err := cryptoutils.GenerateTransportKey()
	if err != nil {
		return err
	}

	reply, err := client.AsymmetricKeys(ctx, tsk.PublicKey())
	if err != nil {
		return err
	}

	encryptedKey := reply.EncryptedKey
	if encryptedKey == nil {
		// a secret is stored, the vetKey is needed to open it
		encryptedKey, err = client.AsymmetricEncryptedKey(ctx, tsk.PublicKey())
		if err != nil {
			return err
		}
	}

	vetKey, err := cryptoutils.DecryptAndVerify(tsk, encryptedKey, reply.PublicKey, client.Identity().Bytes())
	if err != nil {
		return err
	}
	wrapKey, err := cryptoutils.DeriveSymmetricKey(vetKey, secretDomain)
	if err != nil {
		return err
	}

	var aesKey []byte
	created := reply.EncryptedSecret == nil
	if created {
		aesKey, err = cryptoutils.GenerateSecretKey()
		if err != nil {
			return err
		}
		sealed, err := cryptoutils.SealSecret(wrapKey, aesKey)
		if err != nil {
			return err
		}
		if err := client.SaveEncryptedSecret(ctx, sealed); err != nil {
			return err
		}
	} else {
		aesKey, err = cryptoutils.OpenSecret(wrapKey, reply.EncryptedSecret)
		if err != nil {
			return err
		}
	}

	return printJSON(map[string]any{
		"identity": client.Identity().String(),
		"created":  created,
		"aes_key":  hex.EncodeToString(aesKey),
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
