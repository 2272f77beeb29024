package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/T0MGL/0rdefy-sub003/config"
	"github.com/T0MGL/0rdefy-sub003/models"
	"github.com/T0MGL/0rdefy-sub003/utils"
	"github.com/shopspring/decimal"
)

// setupIntegrationTest boots MySQL and Redis in docker, connects the shared
// config globals and migrates the schema. Returns a context carrying a fresh
// business id so tests stay isolated from each other.
func setupIntegrationTest(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "fulfillment_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetBusinessIdInContext(ctx, fmt.Sprintf("biz-%d", time.Now().UnixNano()))
	return ctx
}

func createTestProduct(t *testing.T, ctx context.Context, name string, stock int) *models.Product {
	t.Helper()
	p, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:     name,
		Sku:      strings.ToUpper(strings.ReplaceAll(name, " ", "-")),
		Stock:    stock,
		UnitCost: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("CreateProduct %s: %v", name, err)
	}
	return p
}

// createConfirmedOrder creates a normalized-rows order and walks it to
// confirmed.
func createConfirmedOrder(t *testing.T, ctx context.Context, number string, items ...models.NewOrderItem) *models.Order {
	t.Helper()
	o, err := models.CreateOrder(ctx, &models.NewOrder{
		OrderNumber:  number,
		CustomerName: "Test Customer",
		Items:        items,
	})
	if err != nil {
		t.Fatalf("CreateOrder %s: %v", number, err)
	}
	o, err = models.UpdateOrderFulfillmentStatus(ctx, o.ID, models.OrderStatusConfirmed)
	if err != nil {
		t.Fatalf("confirm order %s: %v", number, err)
	}
	return o
}

func mustGetOrder(t *testing.T, ctx context.Context, id int) *models.Order {
	t.Helper()
	o, err := models.GetOrder(ctx, id)
	if err != nil {
		t.Fatalf("GetOrder %d: %v", id, err)
	}
	return o
}

func mustGetProduct(t *testing.T, ctx context.Context, id int) *models.Product {
	t.Helper()
	p, err := models.GetProduct(ctx, id)
	if err != nil {
		t.Fatalf("GetProduct %d: %v", id, err)
	}
	return p
}

func pickEverything(t *testing.T, ctx context.Context, sessionId int) {
	t.Helper()
	items, err := models.GetSessionPickItems(ctx, sessionId)
	if err != nil {
		t.Fatalf("GetSessionPickItems: %v", err)
	}
	for _, item := range items {
		if _, err := models.ReportPicked(ctx, sessionId, item.ProductId, item.TotalQuantityNeeded); err != nil {
			t.Fatalf("ReportPicked product %d: %v", item.ProductId, err)
		}
	}
}

func packEverything(t *testing.T, ctx context.Context, sessionId int) {
	t.Helper()
	view, err := models.GetPackingView(ctx, sessionId)
	if err != nil {
		t.Fatalf("GetPackingView: %v", err)
	}
	for _, order := range view.Orders {
		for _, item := range order.Items {
			for n := item.Packed; n < item.Needed; n++ {
				if _, err := models.PackUnit(ctx, sessionId, order.OrderId, item.ProductId); err != nil {
					t.Fatalf("PackUnit order %d product %d: %v", order.OrderId, item.ProductId, err)
				}
			}
		}
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("fulfillment-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("fulfillment-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=fulfillment_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
