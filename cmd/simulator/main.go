package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleetops/internal/lifecycle"
	"github.com/ukydev/fleetops/internal/models"
)

// APIError is the error body returned by the API.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Client calls the fleetops API, one bearer token per role.
type Client struct {
	baseURL  string
	http     *http.Client
	password string

	mu     sync.RWMutex
	tokens map[models.Role]string
}

func NewClient(baseURL, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 10 * time.Second},
		password: password,
		tokens:   make(map[models.Role]string),
	}
}

func (c *Client) do(ctx context.Context, role models.Role, method, path string, in, out interface{}) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	token := c.tokens[role]
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error APIError `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		e.Error.Status = resp.StatusCode
		return &e.Error
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Login signs in as an existing account and keeps its token for role.
func (c *Client) Login(ctx context.Context, role models.Role, username, password string) error {
	var resp models.LoginResponse
	if err := c.do(ctx, "", http.MethodPost, "/auth/login", models.LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return fmt.Errorf("log in as %s: %w", username, err)
	}
	c.mu.Lock()
	c.tokens[role] = resp.Token
	c.mu.Unlock()
	return nil
}

// Provision has the admin create the simulator account for role, then logs in
// with it. An account left over from an earlier run is reused.
func (c *Client) Provision(ctx context.Context, role models.Role) error {
	username := "sim-" + string(role)
	err := c.do(ctx, models.RoleAdmin, http.MethodPost, "/users", models.RegisterRequest{
		Username:  username,
		Email:     username + "@fleetops.local",
		Password:  c.password,
		FirstName: "Simulator",
		LastName:  string(role),
		Role:      role,
	}, nil)
	var apiErr *APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict) {
		return fmt.Errorf("provision %s: %w", role, err)
	}
	return c.Login(ctx, role, username, c.password)
}

func (c *Client) Onboard(ctx context.Context, in lifecycle.VehicleInput) (*models.Vehicle, error) {
	var v models.Vehicle
	if err := c.do(ctx, models.RoleAdmin, http.MethodPost, "/vehicles", in, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Truck is the simulator's view of one vehicle.
type Truck struct {
	ID     string
	Numero string
	Etape  models.Stage
	Order  string // open delivery order, if any
	trips  int
}

// Simulator moves trucks one lifecycle step per tick.
type Simulator struct {
	client      *Client
	rng         *rand.Rand
	failureRate float64
	logger      log.FieldLogger
	mu          sync.Mutex
}

func NewSimulator(client *Client, failureRate float64, seed int64, logger log.FieldLogger) *Simulator {
	return &Simulator{client: client, rng: rand.New(rand.NewSource(seed)), failureRate: failureRate, logger: logger}
}

func (s *Simulator) fails() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.failureRate
}

// Step performs the next action for t and records the stage it reached.
func (s *Simulator) Step(ctx context.Context, t *Truck) error {
	path := "/vehicles/" + t.ID
	var (
		res  lifecycle.Transition
		err  error
		role models.Role
	)
	switch t.Etape {
	case models.StageRetourMaintenance:
		role = models.RoleMaintenance
		err = s.client.do(ctx, role, http.MethodPost, path+"/maintenance/start", nil, &res)
	case models.StageMaintenanceEnCours:
		role = models.RoleMaintenance
		err = s.client.do(ctx, role, http.MethodPost, path+"/maintenance/finish", lifecycle.DiagnosticInput{
			Constat: "Usure plaquettes", Travaux: "Remplacement plaquettes avant",
		}, &res)
	case models.StageDisponibleMaintenance:
		role = models.RoleMaintenance
		err = s.client.do(ctx, role, http.MethodPost, path+"/admin/dispatch", nil, &res)
	case models.StageVerificationAdmin:
		role = models.RoleAdministratif
		err = s.client.do(ctx, role, http.MethodPost, path+"/admin/check", s.control("Dossier complet", "Assurance manquante"), &res)
	case models.StageControleOBC:
		role = models.RoleOBC
		ok := !s.fails()
		err = s.client.do(ctx, role, http.MethodPost, path+"/obc/control", lifecycle.OBCInput{
			Conforme: ok, SafeToLoadValide: ok, Observations: observation(ok, "RAS", "Safe to load expiré"),
		}, &res)
	case models.StageControleHSSE:
		role = models.RoleHSEQ
		err = s.client.do(ctx, role, http.MethodPost, path+"/hsse/control", s.control("Equipements conformes", "Extincteur absent"), &res)
	case models.StageDisponible:
		role = models.RoleExploitation
		t.trips++
		var m struct {
			lifecycle.Transition
			Order models.DeliveryOrder `json:"delivery_order"`
		}
		err = s.client.do(ctx, role, http.MethodPost, path+"/missions", lifecycle.DeliveryInput{
			Numero:      fmt.Sprintf("BL-%s-%03d", t.Numero, t.trips),
			ChauffeurID: "chauffeur-" + t.Numero,
			Destination: "Dépôt Sangarédi",
			Produit:     "Gasoil",
		}, &m)
		res = m.Transition
		if err == nil {
			t.Order = m.Order.ID.Hex()
		}
	case models.StageEnMission:
		role = models.RoleExploitation
		err = s.client.do(ctx, role, http.MethodPost, path+"/missions/"+t.Order+"/close", nil, &res)
		if err == nil {
			t.Order = ""
		}
	case models.StageBloque:
		role = models.RoleAdmin
		err = s.client.do(ctx, role, http.MethodPost, path+"/override", map[string]string{"reason": "Non-conformité levée"}, &res)
	default:
		return fmt.Errorf("truck %s: unknown stage %q", t.Numero, t.Etape)
	}
	if err != nil {
		return fmt.Errorf("truck %s at %s: %w", t.Numero, t.Etape, err)
	}

	s.logger.WithFields(log.Fields{
		"vehicle": t.Numero,
		"event":   res.Event,
		"from":    res.From,
		"to":      res.To,
		"status":  res.Status.Status,
		"role":    role,
	}).Info("Transition applied")
	t.Etape = res.To
	return nil
}

func (s *Simulator) control(ok, ko string) lifecycle.ControlInput {
	conforme := !s.fails()
	return lifecycle.ControlInput{Conforme: conforme, Observations: observation(conforme, ok, ko)}
}

func observation(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// Run steps t every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context, t *Truck, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := s.Step(ctx, t); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Warn("Step failed")
			}
		}
	}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func main() {
	fleetSize := envInt("FLEET_SIZE", 5)
	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}
	password := os.Getenv("SIM_PASSWORD")
	if password == "" {
		password = "simulator-pass"
	}
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 2)) * time.Second
	if interval < time.Second {
		interval = time.Second
	}
	failureRate := envFloat("SIM_FAILURE_RATE", 0.1)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"fleet_size":   fleetSize,
		"api_url":      apiURL,
		"interval":     interval,
		"failure_rate": failureRate,
	}).Info("Starting fleet simulation")

	client := NewClient(apiURL, password)
	adminUser, adminPass := os.Getenv("SIM_ADMIN_USERNAME"), os.Getenv("SIM_ADMIN_PASSWORD")
	if adminUser == "" {
		log.Fatal("SIM_ADMIN_USERNAME and SIM_ADMIN_PASSWORD must name an admin account")
	}
	if err := client.Login(ctx, models.RoleAdmin, adminUser, adminPass); err != nil {
		log.WithError(err).Fatal("Failed to sign in")
	}
	for _, role := range []models.Role{
		models.RoleMaintenance, models.RoleAdministratif,
		models.RoleOBC, models.RoleHSEQ, models.RoleExploitation,
	} {
		if err := client.Provision(ctx, role); err != nil {
			log.WithError(err).Fatal("Failed to provision simulator account")
		}
	}

	sim := NewSimulator(client, failureRate, time.Now().UnixNano(), log.StandardLogger())
	run := strconv.FormatInt(time.Now().Unix()%100000, 10)
	var wg sync.WaitGroup
	for i := 0; i < fleetSize; i++ {
		in := lifecycle.VehicleInput{
			Numero:          fmt.Sprintf("SIM-%s-%02d", run, i+1),
			Categorie:       models.CategoryPorteur,
			TypeTransport:   models.TransportHydrocarbures,
			Immatriculation: fmt.Sprintf("RC-%04d-SIM", rand.Intn(10000)),
		}
		if i%2 == 1 {
			in.Categorie = models.CategoryTracteurRemorque
			in.TypeTransport = models.TransportBauxite
			in.Remorque = fmt.Sprintf("RM-%04d-SIM", rand.Intn(10000))
		}
		v, err := client.Onboard(ctx, in)
		if err != nil {
			log.WithError(err).Error("Failed to onboard vehicle")
			continue
		}
		log.WithFields(log.Fields{"vehicle_id": v.ID.Hex(), "numero": v.Numero}).Info("Onboarded vehicle")

		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.Run(ctx, &Truck{ID: v.ID.Hex(), Numero: v.Numero, Etape: v.Etape}, interval)
		}()
	}

	log.Info("Lifecycle simulation started")
	wg.Wait()
	log.Info("Lifecycle simulation stopped")
}
