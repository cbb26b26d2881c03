package bootstrap

import (
	"log"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"eduka-backend/internal/models"
)

// Run seeds the plan catalog and the admin user for fresh deployments.
// Everything here is idempotent: existing rows are left untouched.
func Run(db *gorm.DB) {
	if db == nil {
		log.Println("bootstrap: skipping; database not initialized")
		return
	}

	seedPlans(db)
	ensureAdminUser(db)
}

func intPtr(v int) *int { return &v }

// defaultPlans is the catalog shipped with a fresh install, one row per plan
// with the product codes each checkout gateway sends for it. A nil duration
// means lifetime access.
func defaultPlans() []models.Plan {
	return []models.Plan{
		{
			Name:           "mensal",
			DisplayName:    "Plano Mensal",
			DurationDays:   intPtr(30),
			Price:          29.90,
			VegaCode:       "vega-mensal",
			GGCheckoutCode: "gg-mensal",
			AmploPayCode:   "amplopay-mensal",
			Active:         true,
		},
		{
			Name:           "trimestral",
			DisplayName:    "Plano Trimestral",
			DurationDays:   intPtr(90),
			Price:          69.90,
			VegaCode:       "vega-trimestral",
			GGCheckoutCode: "gg-trimestral",
			AmploPayCode:   "amplopay-trimestral",
			Active:         true,
		},
		{
			Name:           "anual",
			DisplayName:    "Plano Anual",
			DurationDays:   intPtr(365),
			Price:          199.90,
			VegaCode:       "vega-anual",
			GGCheckoutCode: "gg-anual",
			AmploPayCode:   "amplopay-anual",
			Active:         true,
		},
		{
			Name:           "vitalicio",
			DisplayName:    "Plano Vitalicio",
			DurationDays:   nil,
			Price:          399.90,
			VegaCode:       "vega-vitalicio",
			GGCheckoutCode: "gg-vitalicio",
			AmploPayCode:   "amplopay-vitalicio",
			Active:         true,
		},
	}
}

func seedPlans(db *gorm.DB) {
	for _, plan := range defaultPlans() {
		var existing models.Plan
		if err := db.Where("name = ?", plan.Name).First(&existing).Error; err == nil {
			continue
		}
		if err := db.Create(&plan).Error; err != nil {
			log.Printf("bootstrap: failed to seed plan %q: %v", plan.Name, err)
			continue
		}
		log.Printf("bootstrap: seeded plan %q (ID %d)", plan.Name, plan.ID)
	}
}

func ensureAdminUser(db *gorm.DB) {
	email := strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_EMAIL")))
	if email == "" {
		email = "admin@edukaprime.com.br"
	}

	var user models.User
	if err := db.Where("email = ?", email).First(&user).Error; err == nil {
		return
	}

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		log.Println("bootstrap: ADMIN_PASSWORD not set, skipping admin user creation")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("bootstrap: failed to hash admin password: %v", err)
		return
	}

	name := strings.TrimSpace(os.Getenv("ADMIN_NAME"))
	if name == "" {
		name = "Administrador"
	}

	user = models.User{
		Email:    email,
		Password: string(hashed),
		Name:     name,
		Role:     "admin",
		Active:   true,
	}
	if err := db.Create(&user).Error; err != nil {
		log.Printf("bootstrap: failed to create admin user %q: %v", email, err)
		return
	}

	log.Printf("bootstrap: created admin user %q (ID %d)", user.Email, user.ID)
}
