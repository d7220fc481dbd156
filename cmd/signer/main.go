package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cyphera/delegation-registry/internal/delegation"
	"github.com/cyphera/delegation-registry/internal/eip712"
)

// SignedAuthorization is the payload accepted by the registry's
// grant-by-signature endpoint.
type SignedAuthorization struct {
	Holder    string `json:"holder"`
	Delegate  string `json:"delegate"`
	Deadline  uint64 `json:"deadline"`
	Signature string `json:"signature"`
}

func main() {
	keyFlag := flag.String("key", "", "Holder private key (hex, no 0x prefix)")
	delegateFlag := flag.String("delegate", "", "Delegate address")
	ttlFlag := flag.Duration("ttl", 15*time.Minute, "Authorization validity window")
	nonceFlag := flag.Int64("nonce", -1, "Authorization nonce (-1 to fetch from the API)")
	chainIDFlag := flag.Int64("chain-id", 1, "Chain ID the registry is bound to")
	instanceFlag := flag.String("instance", "", "Registry instance address")
	nameFlag := flag.String("name", "DelegationRegistry", "Protocol name in the signing domain")
	versionFlag := flag.String("version", "1", "Protocol version in the signing domain")
	apiFlag := flag.String("api", "http://localhost:8000", "Registry API base URL")
	submitFlag := flag.Bool("submit", false, "Submit the signed authorization to the API")
	flag.Parse()

	if *keyFlag == "" {
		log.Fatal("Missing required -key flag")
	}
	if !common.IsHexAddress(*delegateFlag) {
		log.Fatalf("Invalid delegate address: %s", *delegateFlag)
	}
	if !common.IsHexAddress(*instanceFlag) {
		log.Fatalf("Invalid instance address: %s", *instanceFlag)
	}

	privateKey, err := crypto.HexToECDSA(*keyFlag)
	if err != nil {
		log.Fatalf("Failed to parse private key: %v", err)
	}
	holder := crypto.PubkeyToAddress(privateKey.PublicKey)
	delegate := common.HexToAddress(*delegateFlag)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	nonce := uint64(*nonceFlag)
	if *nonceFlag < 0 {
		nonce, err = fetchNonce(ctx, *apiFlag, holder)
		if err != nil {
			log.Fatalf("Failed to fetch nonce: %v", err)
		}
		log.Printf("Fetched nonce %d for holder %s", nonce, holder.Hex())
	}

	domain := eip712.Domain{
		Name:              *nameFlag,
		Version:           *versionFlag,
		ChainID:           big.NewInt(*chainIDFlag),
		VerifyingContract: common.HexToAddress(*instanceFlag),
	}

	auth := delegation.Authorization{
		Holder:   holder,
		Delegate: delegate,
		Nonce:    nonce,
		Deadline: uint64(time.Now().Add(*ttlFlag).Unix()),
	}

	signature, err := crypto.Sign(auth.SigningHash(domain.Separator()).Bytes(), privateKey)
	if err != nil {
		log.Fatalf("Failed to sign authorization: %v", err)
	}
	// Ethereum wallet convention for the recovery id
	signature[crypto.RecoveryIDOffset] += 27

	signed := SignedAuthorization{
		Holder:    holder.Hex(),
		Delegate:  delegate.Hex(),
		Deadline:  auth.Deadline,
		Signature: hexutil.Encode(signature),
	}

	payload, err := json.MarshalIndent(signed, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal authorization: %v", err)
	}
	fmt.Println(string(payload))

	if *submitFlag {
		if err := submit(ctx, *apiFlag, signed); err != nil {
			log.Fatalf("Submission failed: %v", err)
		}
		log.Println("Authorization accepted by the registry")
	}
}

// fetchNonce reads the holder's current authorization nonce from the API.
func fetchNonce(ctx context.Context, apiBase string, holder common.Address) (uint64, error) {
	url := fmt.Sprintf("%s/api/v1/delegations/nonce?holder=%s", apiBase, holder.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d from nonce endpoint", resp.StatusCode)
	}

	var body struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return body.Nonce, nil
}

// submit posts the signed authorization to the grant-by-signature endpoint.
func submit(ctx context.Context, apiBase string, signed SignedAuthorization) error {
	payload, err := json.Marshal(signed)
	if err != nil {
		return err
	}

	url := apiBase + "/api/v1/delegations/grant-by-signature"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
	}
	return nil
}
