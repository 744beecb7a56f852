package consumer

import (
	"crypto/sha256"
	"crypto/sha512"
	"strings"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"

	"github.com/arnold-1324/AtlasSearch/internal/config"
)

var (
	// SHA256 é o gerador de hash SHA256
	SHA256 scram.HashGeneratorFcn = sha256.New

	// SHA512 é o gerador de hash SHA512
	SHA512 scram.HashGeneratorFcn = sha512.New
)

// XDGSCRAMClient implementa sarama.SCRAMClient usando xdg-go/scram
type XDGSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

// Begin inicia uma nova conversa SCRAM
func (x *XDGSCRAMClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

// Step processa um step da autenticação SCRAM
func (x *XDGSCRAMClient) Step(challenge string) (response string, err error) {
	response, err = x.ClientConversation.Step(challenge)
	return
}

// Done verifica se a autenticação SCRAM está completa
func (x *XDGSCRAMClient) Done() bool {
	return x.ClientConversation.Done()
}

// applySASL configures SASL/SCRAM and TLS on a sarama config from the
// kafka auth section.
func applySASL(saramaConfig *sarama.Config, auth config.KafkaAuthConfig) {
	if !auth.Enabled {
		return
	}

	saramaConfig.Net.SASL.Enable = true
	saramaConfig.Net.SASL.User = auth.Username
	saramaConfig.Net.SASL.Password = auth.Password

	switch strings.ToUpper(auth.Mechanism) {
	case "SCRAM-SHA-256":
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: SHA256}
		}
	case "SCRAM-SHA-512":
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: SHA512}
		}
	default:
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	}

	if auth.UseTLS {
		saramaConfig.Net.TLS.Enable = true
	}
}
