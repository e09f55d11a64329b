package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Atanda1/offramp/params"
	"github.com/Atanda1/offramp/pkg/crypto"
)

// sign-request produces a signed create-order request body ready to POST to
// the gateway. With no -key flag it generates a throwaway keypair, which is
// handy against a devnet where the owner has minted to arbitrary addresses.
func main() {
	keyHex := flag.String("key", "", "private key hex (generates a fresh key when empty)")
	chainID := flag.Int64("chain", params.DefaultChainID, "EIP-712 chain id")
	token := flag.String("token", "0x00000000000000000000000000000000000000aa", "token address")
	amount := flag.String("amount", "1000100", "order amount in base units")
	senderFee := flag.String("fee", "100", "sender fee in base units")
	institution := flag.String("institution", "GTBINGLA", "institution code")
	nonce := flag.Uint64("nonce", 1, "request nonce (must exceed the caller's last used nonce)")
	flag.Parse()

	var signer *crypto.Signer
	var err error
	if *keyHex == "" {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Address: %s\n", signer.Address().Hex())
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())
	} else {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
		if err != nil {
			fmt.Printf("Error loading key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Address: %s\n\n", signer.Address().Hex())
	}

	amt, ok := new(big.Int).SetString(*amount, 10)
	if !ok {
		fmt.Printf("Error: bad amount %q\n", *amount)
		os.Exit(1)
	}
	fee, ok := new(big.Int).SetString(*senderFee, 10)
	if !ok {
		fmt.Printf("Error: bad fee %q\n", *senderFee)
		os.Exit(1)
	}

	req := &crypto.CreateOrderRequest{
		Token:              common.HexToAddress(*token),
		Amount:             amt,
		InstitutionCode:    *institution,
		Label:              "sign-request-demo",
		Rate:               "1500.25",
		SenderFeeRecipient: signer.Address(),
		SenderFee:          fee,
		RefundAddress:      signer.Address(),
		MessageHash:        "encrypted-recipient-details",
		Nonce:              new(big.Int).SetUint64(*nonce),
		Sender:             signer.Address(),
	}

	reqSigner := crypto.NewRequestSigner(crypto.Domain{
		Name:    params.EIP712DomainName,
		Version: params.EIP712DomainVer,
		ChainID: big.NewInt(*chainID),
	})

	digest, err := reqSigner.HashCreateOrder(req)
	if err != nil {
		fmt.Printf("Error hashing request: %v\n", err)
		os.Exit(1)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}

	// Verify before printing so a bad key fails loudly here, not at the API.
	recovered, err := crypto.RecoverAddress(digest, sig)
	if err != nil || recovered != signer.Address() {
		fmt.Printf("Signature verification failed (recovered %s): %v\n", recovered.Hex(), err)
		os.Exit(1)
	}
	fmt.Println("Signature verified.")

	body := map[string]interface{}{
		"token":              req.Token.Hex(),
		"amount":             req.Amount.String(),
		"institutionCode":    req.InstitutionCode,
		"label":              req.Label,
		"rate":               req.Rate,
		"senderFeeRecipient": req.SenderFeeRecipient.Hex(),
		"senderFee":          req.SenderFee.String(),
		"refundAddress":      req.RefundAddress.Hex(),
		"messageHash":        req.MessageHash,
		"nonce":              *nonce,
		"sender":             req.Sender.Hex(),
		"signature":          fmt.Sprintf("0x%x", sig),
	}
	out, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nRequest body:")
	fmt.Println(string(out))
	fmt.Println("\nSubmit with:")
	fmt.Println("  POST http://localhost:8080/api/v1/orders")
	fmt.Println("  Content-Type: application/json")
}
