// Package adapterregistry installs every built-in adapter into a factory.
package adapterregistry

import (
	"errors"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/file"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/ftp"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/httpadapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/jdbc"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/jms"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/kafka"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/mail"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/odata"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/rest"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/sap"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/sftp"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter/soap"
	pkgerrors "github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// DefaultFactoryName names the factory built by NewFactory
const DefaultFactoryName = "builtin"

type registration struct {
	name     string
	register func(*adapter.DefaultFactory) error
}

var builtins = []registration{
	{"HTTP", httpadapter.Register},
	{"JDBC", jdbc.Register},
	{"REST", rest.Register},
	{"SOAP", soap.Register},
	{"FILE", file.Register},
	{"MAIL", mail.Register},
	{"FTP", ftp.Register},
	{"SFTP", sftp.Register},
	{"RFC and IDOC", sap.Register},
	{"JMS", jms.Register},
	{"ODATA", odata.Register},
	{"KAFKA", kafka.Register},
}

// Register installs the sender and receiver of every adapter type:
//
//   - HTTP (inbound listener, outbound client)
//   - JDBC (PostgreSQL polling and inserts)
//   - REST, SOAP and ODATA (HTTP based services)
//   - FILE, FTP and SFTP (directory polling and uploads)
//   - MAIL (IMAP polling, SMTP delivery)
//   - RFC and IDOC (SAP gateway over HTTP)
//   - JMS (queues and topics on NATS)
//   - KAFKA (consumer groups and producers)
func Register(f *adapter.DefaultFactory) error {
	if f == nil {
		return pkgerrors.WrapFatal(errors.New("factory cannot be nil"), "AdapterRegistry", "Register", "factory validation")
	}
	for _, b := range builtins {
		if err := b.register(f); err != nil {
			return pkgerrors.WrapInvalid(err, "AdapterRegistry", "Register", b.name+" adapter registration")
		}
	}
	return nil
}

// NewFactory returns a factory with every built-in adapter registered
func NewFactory(deps adapter.Dependencies) (*adapter.DefaultFactory, error) {
	f := adapter.NewDefaultFactory(DefaultFactoryName, deps)
	if err := Register(f); err != nil {
		return nil, err
	}
	return f, nil
}
