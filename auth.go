package projection

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// RendererAuth identifies a remote renderer endpoint to the websocket
// bridge. The jwt is minted by the host platform; the bridge forwards it
// as a bearer token and only peeks at claims for log correlation.
type RendererAuth struct {
	ByJwt      string
	InstanceId Id
	AppVersion string
}

type RendererClaims struct {
	RendererId  Id
	DisplayName string
}

// ParseRendererJwtUnverified extracts claims without verifying the
// signature. Verification is the remote endpoint's job; the bridge only
// needs an identity to log.
func ParseRendererJwtUnverified(jwt string) (*RendererClaims, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	rendererClaims := &RendererClaims{}
	if rendererIdStr, ok := claims["renderer_id"].(string); ok {
		if rendererId, err := ParseId(rendererIdStr); err == nil {
			rendererClaims.RendererId = rendererId
		}
	}
	if displayName, ok := claims["display_name"].(string); ok {
		rendererClaims.DisplayName = displayName
	}

	return rendererClaims, nil
}
