package github

// searchQuery pages through repository search results together with the
// caller's GraphQL rate-limit budget.
const searchQuery = `query($q: String!, $cursor: String, $limit: Int!) {
  search(query: $q, type: REPOSITORY, first: $limit, after: $cursor) {
    edges {
      node {
        ... on Repository {
          databaseId
          name
          nameWithOwner
          owner {
            login
          }
          stargazerCount
          createdAt
          updatedAt
        }
      }
    }
    pageInfo {
      hasNextPage
      endCursor
    }
  }
  rateLimit {
    remaining
    resetAt
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data   *searchData   `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type graphQLError struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Path    []string `json:"path"`
}

type searchData struct {
	Search struct {
		Edges []struct {
			Node repositoryNode `json:"node"`
		} `json:"edges"`
		PageInfo struct {
			HasNextPage bool    `json:"hasNextPage"`
			EndCursor   *string `json:"endCursor"`
		} `json:"pageInfo"`
	} `json:"search"`
	RateLimit *struct {
		Remaining int    `json:"remaining"`
		ResetAt   string `json:"resetAt"`
	} `json:"rateLimit"`
}

type repositoryNode struct {
	DatabaseID     *int64 `json:"databaseId"`
	Name           string `json:"name"`
	NameWithOwner  string `json:"nameWithOwner"`
	StargazerCount int    `json:"stargazerCount"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
	Owner          struct {
		Login string `json:"login"`
	} `json:"owner"`
}
