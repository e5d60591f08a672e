// Package protocol implementa el adaptador de almacenamiento para los
// registros del protocolo OAuth/OIDC: sesiones, tokens, códigos e
// interacciones. Cada tipo de registro vive en su propia tabla con el
// payload serializado en JSONB.
package protocol

import "fmt"

// Kind identifica un tipo de registro de protocolo. El conjunto es cerrado:
// una Kind desconocida es un error de programación, no un caso de runtime.
type Kind int

const (
	KindSession Kind = iota
	KindAccessToken
	KindAuthorizationCode
	KindRefreshToken
	KindDeviceCode
	KindClientCredentials
	KindClient
	KindInitialAccessToken
	KindRegistrationAccessToken
	KindInteraction
	KindReplayDetection
	KindPushedAuthorizationRequest
	KindGrant
	KindBackchannelAuthenticationRequest

	kindCount
)

// kindMeta describe las columnas secundarias que cada tabla lleva además de
// las comunes (id, data, expires_at, consumed_at).
type kindMeta struct {
	name        string
	table       string
	hasGrantID  bool // revocable vía RevokeByGrantID
	hasUserCode bool // búsqueda secundaria por user_code (device flow)
	hasUID      bool // búsqueda secundaria por uid (sesiones de navegador)
}

var kinds = [kindCount]kindMeta{
	KindSession:                          {name: "Session", table: "oidc_sessions", hasUID: true},
	KindAccessToken:                      {name: "AccessToken", table: "oidc_access_tokens", hasGrantID: true},
	KindAuthorizationCode:                {name: "AuthorizationCode", table: "oidc_authorization_codes", hasGrantID: true},
	KindRefreshToken:                     {name: "RefreshToken", table: "oidc_refresh_tokens", hasGrantID: true},
	KindDeviceCode:                       {name: "DeviceCode", table: "oidc_device_codes", hasGrantID: true, hasUserCode: true},
	KindClientCredentials:                {name: "ClientCredentials", table: "oidc_client_credentials"},
	KindClient:                           {name: "Client", table: "oidc_clients"},
	KindInitialAccessToken:               {name: "InitialAccessToken", table: "oidc_initial_access_tokens"},
	KindRegistrationAccessToken:          {name: "RegistrationAccessToken", table: "oidc_registration_access_tokens"},
	KindInteraction:                      {name: "Interaction", table: "oidc_interactions"},
	KindReplayDetection:                  {name: "ReplayDetection", table: "oidc_replay_detections"},
	KindPushedAuthorizationRequest:       {name: "PushedAuthorizationRequest", table: "oidc_pushed_authorization_requests"},
	KindGrant:                            {name: "Grant", table: "oidc_grants"},
	KindBackchannelAuthenticationRequest: {name: "BackchannelAuthenticationRequest", table: "oidc_backchannel_authentication_requests"},
}

// Valid reporta si k está dentro del conjunto conocido.
func (k Kind) Valid() bool { return k >= 0 && k < kindCount }

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kinds[k].name
}

// Table devuelve el nombre de la tabla que respalda esta Kind.
func (k Kind) Table() string { return kinds[k].table }

// Grantable reporta si los registros de esta Kind llevan grant_id y por lo
// tanto caen bajo RevokeByGrantID.
func (k Kind) Grantable() bool { return kinds[k].hasGrantID }

// AllKinds devuelve todas las Kinds conocidas, en orden estable.
func AllKinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}
