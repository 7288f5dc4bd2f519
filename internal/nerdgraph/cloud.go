package nerdgraph

import (
	"context"
	"fmt"
	"strings"
)

// AWSIntegrationsInputType is the input type whose fields name every AWS
// integration that can be enabled.
const AWSIntegrationsInputType = "CloudAwsIntegrationsInput"

const introspectIntegrationsQuery = `query ($typeName: String!) {
  __type(name: $typeName) {
    inputFields {
      name
    }
  }
}`

const providerServicesQuery = `query ($accountId: Int!) {
  actor {
    account(id: $accountId) {
      cloud {
        provider(slug: "aws") {
          services {
            slug
          }
        }
      }
    }
  }
}`

const linkAccountMutation = `mutation ($accountId: Int!, $accounts: CloudLinkCloudAccountsInput!) {
  cloudLinkAccount(accountId: $accountId, accounts: $accounts) {
    linkedAccounts {
      id
      name
      authLabel
    }
    errors {
      type
      message
      linkedAccountId
    }
  }
}`

const configureIntegrationMutation = `mutation ($accountId: Int!, $integrations: CloudIntegrationsInput!) {
  cloudConfigureIntegration(accountId: $accountId, integrations: $integrations) {
    integrations {
      id
      name
      service {
        id
        name
      }
    }
    errors {
      type
      message
    }
  }
}`

// MutationError is an error reported inside a cloud mutation payload.
type MutationError struct {
	Type            string `json:"type"`
	Message         string `json:"message"`
	LinkedAccountID *int64 `json:"linkedAccountId,omitempty"`
}

func (e MutationError) String() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// LinkedAccount is a cloud account linked to a New Relic account.
type LinkedAccount struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AuthLabel string `json:"authLabel"`
}

// Integration is an enabled cloud integration.
type Integration struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Service struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"service"`
}

// ConfigureResult is the payload of cloudConfigureIntegration.
type ConfigureResult struct {
	Integrations []Integration   `json:"integrations"`
	Errors       []MutationError `json:"errors"`
}

// IntrospectCapabilities lists the integrations accepted by the AWS
// integrations input type.
func (c *Client) IntrospectCapabilities(ctx context.Context, apiKey string) ([]string, error) {
	var data struct {
		Type *struct {
			InputFields []struct {
				Name string `json:"name"`
			} `json:"inputFields"`
		} `json:"__type"`
	}
	req := Request{
		Query:     introspectIntegrationsQuery,
		Variables: map[string]any{"typeName": AWSIntegrationsInputType},
	}
	if err := c.Do(ctx, apiKey, req, &data); err != nil {
		return nil, fmt.Errorf("introspect %s: %w", AWSIntegrationsInputType, err)
	}
	if data.Type == nil {
		return nil, fmt.Errorf("introspect %s: type not found", AWSIntegrationsInputType)
	}

	names := make([]string, 0, len(data.Type.InputFields))
	for _, f := range data.Type.InputFields {
		names = append(names, f.Name)
	}
	return names, nil
}

// ListProviderServices lists the AWS service slugs available to accountID.
func (c *Client) ListProviderServices(ctx context.Context, apiKey string, accountID int64) ([]string, error) {
	var data struct {
		Actor struct {
			Account struct {
				Cloud struct {
					Provider *struct {
						Services []struct {
							Slug string `json:"slug"`
						} `json:"services"`
					} `json:"provider"`
				} `json:"cloud"`
			} `json:"account"`
		} `json:"actor"`
	}
	req := Request{
		Query:     providerServicesQuery,
		Variables: map[string]any{"accountId": accountID},
	}
	if err := c.Do(ctx, apiKey, req, &data); err != nil {
		return nil, fmt.Errorf("list aws provider services: %w", err)
	}
	provider := data.Actor.Account.Cloud.Provider
	if provider == nil {
		return nil, fmt.Errorf("list aws provider services: provider not found")
	}

	slugs := make([]string, 0, len(provider.Services))
	for _, s := range provider.Services {
		slugs = append(slugs, s.Slug)
	}
	return slugs, nil
}

// LinkAccount links an AWS account through roleARN and returns the new
// linked account id. It returns an error wrapping ErrAlreadyLinked when
// the account is already linked.
func (c *Client) LinkAccount(ctx context.Context, apiKey string, accountID int64, name, roleARN string) (int64, error) {
	var data struct {
		CloudLinkAccount struct {
			LinkedAccounts []LinkedAccount `json:"linkedAccounts"`
			Errors         []MutationError `json:"errors"`
		} `json:"cloudLinkAccount"`
	}
	req := Request{
		Query: linkAccountMutation,
		Variables: map[string]any{
			"accountId": accountID,
			"accounts": map[string]any{
				"aws": []map[string]string{{"name": name, "arn": roleARN}},
			},
		},
	}
	if err := c.Do(ctx, apiKey, req, &data); err != nil {
		return 0, fmt.Errorf("link aws account %s: %w", name, err)
	}

	payload := data.CloudLinkAccount
	if len(payload.Errors) > 0 {
		msgs := make([]string, 0, len(payload.Errors))
		for _, e := range payload.Errors {
			if isAlreadyLinked(e) {
				return 0, fmt.Errorf("link aws account %s: %w: %s", name, ErrAlreadyLinked, e.Message)
			}
			msgs = append(msgs, e.String())
		}
		return 0, fmt.Errorf("link aws account %s: %s", name, strings.Join(msgs, "; "))
	}
	if len(payload.LinkedAccounts) == 0 {
		return 0, fmt.Errorf("link aws account %s: no linked account returned", name)
	}
	return payload.LinkedAccounts[0].ID, nil
}

func isAlreadyLinked(e MutationError) bool {
	return strings.Contains(strings.ToLower(e.Message), "already linked")
}

// ConfigureIntegration enables every integration in capabilities for the
// linked account. Errors inside the payload are returned in the result,
// not as an error.
func (c *Client) ConfigureIntegration(ctx context.Context, apiKey string, accountID, linkedAccountID int64, capabilities []string) (*ConfigureResult, error) {
	aws := make(map[string]any, len(capabilities))
	for _, capability := range capabilities {
		aws[capability] = []map[string]int64{{"linkedAccountId": linkedAccountID}}
	}

	var data struct {
		CloudConfigureIntegration ConfigureResult `json:"cloudConfigureIntegration"`
	}
	req := Request{
		Query: configureIntegrationMutation,
		Variables: map[string]any{
			"accountId":    accountID,
			"integrations": map[string]any{"aws": aws},
		},
	}
	if err := c.Do(ctx, apiKey, req, &data); err != nil {
		return nil, fmt.Errorf("configure integrations for linked account %d: %w", linkedAccountID, err)
	}
	return &data.CloudConfigureIntegration, nil
}
