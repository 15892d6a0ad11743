package autoconf

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/scrypt"
	"lukechampine.com/frand"

	"github.com/depools/mms/client/modules/logger"
	"github.com/depools/mms/client/repositories/message"
	"github.com/depools/mms/client/repositories/signer"
	"github.com/depools/mms/client/types"
)

const (
	tokenPrefix     = "mms"
	tokenVersion    = 0x4d
	tokenEntropyLen = 8

	rendezvousContext = "mms-autoconfig"
	saltLen           = 32
)

var scryptN = int(math.Pow(2, 16))

// autoConfigPayload is the plaintext a joining signer seals with its
// token. The issuing signer learns everything it needs to fill the
// peer's registry slot from it.
type autoConfigPayload struct {
	Label            string `json:"label"`
	TransportAddress string `json:"transport_address"`
	PublicAddress    string `json:"public_address"`
}

type AutoConfigService interface {
	StartAutoConfig(labels []string) (map[uint32]string, error)
	StopAutoConfig() error
	AddAutoConfigDataMessage(token string) (*types.Message, error)
	ProcessAutoConfigDataMessage(messageID uint32) (bool, error)
	PendingRendezvousAddresses() (map[string]struct{}, error)
	JoinRendezvousAddress() (string, error)
	BuildSignerConfigContent() ([]byte, error)
	ApplySignerConfig(lock signer.AddressLock, content []byte) error
}

type BaseAutoConfigService struct {
	transportAddr string
	signerRepo    signer.SignerRepo
	messageRepo   message.MessageRepo
	Logger        logger.Logger
}

func NewAutoConfigService(
	transportAddr string,
	signerRepo signer.SignerRepo,
	messageRepo message.MessageRepo,
	log logger.Logger,
) *BaseAutoConfigService {
	return &BaseAutoConfigService{
		transportAddr: transportAddr,
		signerRepo:    signerRepo,
		messageRepo:   messageRepo,
		Logger:        log,
	}
}

// NewAutoConfigToken issues a fresh token: a short random secret rendered
// as a base58check string with a fixed prefix, so typos are caught before
// anything hits the transport.
func NewAutoConfigToken() string {
	return tokenPrefix + base58.CheckEncode(frand.Bytes(tokenEntropyLen), tokenVersion)
}

// CheckAutoConfigToken normalizes an operator-supplied token and returns
// its canonical form. Spaces and hyphens are tolerated, everything else
// about the token has to check out: prefix, checksum, version byte and
// payload length.
func CheckAutoConfigToken(token string) (string, error) {
	stripped := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '\t' {
			return -1
		}
		return r
	}, token)

	if !strings.HasPrefix(stripped, tokenPrefix) {
		return "", fmt.Errorf("token %q has no %q prefix: %w", token, tokenPrefix, types.ErrInvalidToken)
	}

	payload, version, err := base58.CheckDecode(stripped[len(tokenPrefix):])
	if err != nil {
		return "", fmt.Errorf("token %q: %v: %w", token, err, types.ErrInvalidToken)
	}
	if version != tokenVersion || len(payload) != tokenEntropyLen {
		return "", fmt.Errorf("token %q has wrong version or length: %w", token, types.ErrInvalidToken)
	}

	return tokenPrefix + base58.CheckEncode(payload, tokenVersion), nil
}

// RendezvousAddress derives the transport address both sides of a token
// listen on. It depends only on the token, so the joining signer needs
// no other knowledge about the issuer.
func RendezvousAddress(token string) string {
	sum := sha256.Sum256(append([]byte(rendezvousContext), []byte(token)...))
	return hex.EncodeToString(sum[:])
}

// StartAutoConfig issues one token per peer slot and marks the registry
// as running auto-config. Labels, when given, are applied to the peer
// slots first; all labels must be known before tokens go out.
func (s *BaseAutoConfigService) StartAutoConfig(labels []string) (map[uint32]string, error) {
	registry, err := s.signerRepo.GetRegistry()
	if err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, fmt.Errorf("wallet is not initialized: %w", types.ErrNotFound)
	}

	if len(labels) > 0 {
		if uint32(len(labels)) != registry.NumSigners-1 {
			return nil, fmt.Errorf("got %d labels for %d peers", len(labels), registry.NumSigners-1)
		}
		for i, label := range labels {
			label := label
			if _, err := s.signerRepo.SetSigner(signer.AddressLock{}, uint32(i+1), signer.Patch{Label: &label}); err != nil {
				return nil, fmt.Errorf("failed to label signer %d: %w", i+1, err)
			}
		}
	}

	complete, err := s.signerRepo.SignerLabelsComplete()
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, types.ErrLabelsIncomplete
	}

	tokens := make(map[uint32]string, registry.NumSigners-1)
	for index := uint32(1); index < registry.NumSigners; index++ {
		tokens[index] = NewAutoConfigToken()
	}
	if err := s.signerRepo.SetAutoConfigTokens(tokens); err != nil {
		return nil, err
	}

	s.Logger.Log("Started auto-config, issued %d tokens", len(tokens))

	return tokens, nil
}

// StopAutoConfig drops every stored token and running flag. Safe to call
// at any point, including when auto-config never ran.
func (s *BaseAutoConfigService) StopAutoConfig() error {
	if err := s.signerRepo.ClearAutoConfig(); err != nil {
		return err
	}

	s.Logger.Log("Stopped auto-config")

	return nil
}

// AddAutoConfigDataMessage is the joining side of the handshake: seal
// this signer's label and addresses with the operator-supplied token and
// queue the result for the token's rendezvous address. The canonical
// token is kept on the local slot until the signer config arrives.
func (s *BaseAutoConfigService) AddAutoConfigDataMessage(token string) (*types.Message, error) {
	canonical, err := CheckAutoConfigToken(token)
	if err != nil {
		return nil, err
	}

	me, err := s.signerRepo.GetSigner(0)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(autoConfigPayload{
		Label:            me.Label,
		TransportAddress: s.transportAddr,
		PublicAddress:    me.PublicAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal auto-config payload: %w", err)
	}

	sealed, err := sealPayload(canonical, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to seal auto-config payload: %w", err)
	}

	if err := s.signerRepo.SetAutoConfigTokens(map[uint32]string{0: canonical}); err != nil {
		return nil, err
	}

	// Slot 1 is a placeholder, real indices only exist once the signer
	// config arrives.
	msg, err := s.messageRepo.AddMessage(&types.Message{
		Type:        types.MessageTypeAutoConfigData,
		Direction:   types.DirectionOut,
		Content:     sealed,
		SignerIndex: 1,
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Log("Queued auto-config data message %d", msg.ID)

	return msg, nil
}

// ProcessAutoConfigDataMessage is the issuing side: find which pending
// token seals the message, fill that peer's slot from the payload and
// report whether every peer is now known. A payload no pending token can
// open is treated as an invalid token, not as a transport error.
func (s *BaseAutoConfigService) ProcessAutoConfigDataMessage(messageID uint32) (bool, error) {
	msg, err := s.messageRepo.GetMessageByID(messageID)
	if err != nil {
		return false, err
	}
	if msg.Type != types.MessageTypeAutoConfigData || msg.Direction != types.DirectionIn {
		return false, fmt.Errorf("message %d is %s/%s, not inbound auto-config data: %w",
			msg.ID, msg.Direction, msg.Type, types.ErrInvalidTransition)
	}

	signers, err := s.signerRepo.GetAllSigners()
	if err != nil {
		return false, err
	}

	matched := false
	for _, sl := range signers {
		if sl.Me() || sl.AutoConfigToken == "" {
			continue
		}
		plaintext, err := unsealPayload(sl.AutoConfigToken, msg.Content)
		if err != nil {
			continue
		}

		var payload autoConfigPayload
		if err := json.Unmarshal(plaintext, &payload); err != nil {
			return false, fmt.Errorf("failed to unmarshal auto-config payload for signer %d: %w", sl.Index, err)
		}
		if err := s.signerRepo.CompleteAutoConfigSlot(sl.Index, payload.TransportAddress, payload.PublicAddress); err != nil {
			return false, err
		}
		if payload.Label != "" {
			label := payload.Label
			if _, err := s.signerRepo.SetSigner(signer.AddressLock{}, sl.Index, signer.Patch{Label: &label}); err != nil {
				return false, err
			}
		}

		s.Logger.Log("Auto-config data message %d filled signer slot %d (%s)", msg.ID, sl.Index, payload.Label)
		matched = true
		break
	}
	if !matched {
		return false, fmt.Errorf("message %d matches no pending token: %w", msg.ID, types.ErrInvalidToken)
	}

	complete, err := s.signerRepo.SignerConfigComplete()
	if err != nil {
		return false, err
	}

	return complete, nil
}

// PendingRendezvousAddresses lists the transport addresses this signer
// has to watch for auto-config data while tokens are outstanding.
func (s *BaseAutoConfigService) PendingRendezvousAddresses() (map[string]struct{}, error) {
	registry, err := s.signerRepo.GetRegistry()
	if err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, nil
	}

	addrs := make(map[string]struct{})
	for _, sl := range registry.Signers {
		if sl.Me() || sl.AutoConfigToken == "" {
			continue
		}
		addrs[RendezvousAddress(sl.AutoConfigToken)] = struct{}{}
	}

	return addrs, nil
}

// JoinRendezvousAddress returns where this signer's own auto-config data
// has to be sent, derived from the token stored on the local slot.
func (s *BaseAutoConfigService) JoinRendezvousAddress() (string, error) {
	me, err := s.signerRepo.GetSigner(0)
	if err != nil {
		return "", err
	}
	if me.AutoConfigToken == "" {
		return "", fmt.Errorf("no auto-config token stored: %w", types.ErrNotFound)
	}

	return RendezvousAddress(me.AutoConfigToken), nil
}

// BuildSignerConfigContent renders the converged registry for broadcast
// to the peers. Tokens and running flags never leave this node.
func (s *BaseAutoConfigService) BuildSignerConfigContent() ([]byte, error) {
	registry, err := s.signerRepo.GetRegistry()
	if err != nil {
		return nil, err
	}
	if registry == nil || !registry.ConfigComplete() {
		return nil, fmt.Errorf("signer config is incomplete: %w", types.ErrRegistryIncomplete)
	}

	out := types.Registry{
		Threshold:  registry.Threshold,
		NumSigners: registry.NumSigners,
		Signers:    make([]types.Signer, len(registry.Signers)),
	}
	for i, sl := range registry.Signers {
		sl.AutoConfigToken = ""
		sl.AutoConfigRunning = false
		out.Signers[i] = sl
	}

	content, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signer config: %w", err)
	}

	return content, nil
}

// ApplySignerConfig installs a received signer config. The sender lists
// signers in its own order, so the registry is rotated until this node
// sits in slot 0 before it replaces the stored one.
func (s *BaseAutoConfigService) ApplySignerConfig(lock signer.AddressLock, content []byte) error {
	var received types.Registry
	if err := json.Unmarshal(content, &received); err != nil {
		return fmt.Errorf("failed to unmarshal signer config: %w", err)
	}

	n := uint32(len(received.Signers))
	if n == 0 {
		return fmt.Errorf("signer config has no signers: %w", types.ErrRegistryIncomplete)
	}

	myPos := -1
	for i, sl := range received.Signers {
		if sl.TransportAddress == s.transportAddr {
			myPos = i
			break
		}
	}
	if myPos < 0 {
		return fmt.Errorf("signer config does not include this node (%s)", s.transportAddr)
	}

	rotated := types.Registry{
		Threshold:  received.Threshold,
		NumSigners: received.NumSigners,
		Signers:    make([]types.Signer, n),
	}
	for i := uint32(0); i < n; i++ {
		sl := received.Signers[(uint32(myPos)+i)%n]
		sl.Index = i
		sl.AddressKnown = sl.PublicAddress != ""
		sl.AutoConfigToken = ""
		sl.AutoConfigRunning = false
		rotated.Signers[i] = sl
	}

	if err := s.signerRepo.ReplaceRegistry(lock, &rotated); err != nil {
		return err
	}

	s.Logger.Log("Applied signer config: %d-of-%d, this node at sender position %d",
		rotated.Threshold, rotated.NumSigners, myPos)

	return nil
}

func sealPayload(token string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	sealed, err := encrypt([]byte(token), salt, plaintext)
	if err != nil {
		return nil, err
	}

	return append(salt, sealed...), nil
}

func unsealPayload(token string, data []byte) ([]byte, error) {
	if len(data) <= saltLen {
		return nil, fmt.Errorf("sealed payload too short")
	}

	return decrypt([]byte(token), data[:saltLen], data[saltLen:])
}

func encrypt(key, salt, data []byte) ([]byte, error) {
	derivedKey, err := scrypt.Key(key, salt, scryptN, 8, 1, 32)
	if err != nil {
		return nil, err
	}

	c, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(c)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, data, nil), nil
}

func decrypt(key, salt, data []byte) ([]byte, error) {
	derivedKey, err := scrypt.Key(key, salt, scryptN, 8, 1, 32)
	if err != nil {
		return nil, err
	}

	c, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(c)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("invalid data length")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	decryptedData, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, err
	}

	return decryptedData, nil
}
