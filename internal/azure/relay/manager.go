package relay

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/relay/armrelay"
	"github.com/julienstroheker/relaycat/internal/logging"
)

// hybridConnectionsAPI is the subset of armrelay.HybridConnectionsClient used here
type hybridConnectionsAPI interface {
	CreateOrUpdate(
		ctx context.Context,
		resourceGroupName, namespaceName, hybridConnectionName string,
		parameters armrelay.HybridConnection,
		options *armrelay.HybridConnectionsClientCreateOrUpdateOptions,
	) (armrelay.HybridConnectionsClientCreateOrUpdateResponse, error)
}

// Manager provisions hybrid connections in an Azure Relay namespace
type Manager struct {
	client            hybridConnectionsAPI
	subscriptionID    string
	resourceGroupName string
	namespaceName     string
}

// ManagerOptions contains configuration for the Relay Manager
type ManagerOptions struct {
	// SubscriptionID is the Azure subscription ID
	SubscriptionID string

	// ResourceGroupName is the name of the resource group containing the Relay namespace
	ResourceGroupName string

	// Namespace is the Azure Relay namespace, as a bare name or a host
	Namespace string

	// Credential is the Azure credential to use (optional, defaults to DefaultAzureCredential)
	Credential azcore.TokenCredential

	// Logger receives management requests at debug level (optional)
	Logger *logging.Logger

	// Transport replaces the HTTP transport of the management client (optional)
	Transport policy.Transporter
}

// NewManager creates a new Azure Relay Manager
func NewManager(opts *ManagerOptions) (*Manager, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription ID is required")
	}
	if opts.ResourceGroupName == "" {
		return nil, fmt.Errorf("resource group name is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}

	credential := opts.Credential
	if credential == nil {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create default credential: %w", err)
		}
		credential = cred
	}

	hcClient, err := armrelay.NewHybridConnectionsClient(opts.SubscriptionID, credential, &arm.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Telemetry:        policy.TelemetryOptions{ApplicationID: "relaycat"},
			PerRetryPolicies: []policy.Policy{newLoggingPolicy(opts.Logger)},
			Transport:        opts.Transport,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create hybrid connections client: %w", err)
	}

	return &Manager{
		client:            hcClient,
		subscriptionID:    opts.SubscriptionID,
		resourceGroupName: opts.ResourceGroupName,
		namespaceName:     NamespaceName(opts.Namespace),
	}, nil
}

// EnsureHybridConnection creates the hybrid connection, or updates it when it
// already exists. Senders must present a token.
func (m *Manager) EnsureHybridConnection(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("hybrid connection name is required")
	}

	props := armrelay.HybridConnection{
		Properties: &armrelay.HybridConnectionProperties{
			RequiresClientAuthorization: ptr(true),
			UserMetadata:                ptr("relaycat"),
		},
	}

	_, err := m.client.CreateOrUpdate(ctx, m.resourceGroupName, m.namespaceName, name, props, nil)
	if err != nil {
		return fmt.Errorf("failed to ensure hybrid connection %s/%s: %w", m.namespaceName, name, err)
	}

	return nil
}

// ptr is a helper function to get a pointer to a value
func ptr[T any](v T) *T {
	return &v
}
